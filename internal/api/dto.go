package api

import (
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token               string    `json:"token"`
	ExpiresAt           time.Time `json:"expires_at"`
	AccountID           string    `json:"account_id"`
	Role                string    `json:"role"`
	PasswordResetNeeded bool      `json:"password_reset_needed"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type createAccountRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

type createAccountResponse struct {
	AccountID    string `json:"account_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	TempPassword string `json:"temp_password"`
}

type resetPasswordResponse struct {
	TempPassword string `json:"temp_password"`
}

type addPhoneRequest struct {
	Number string `json:"number" validate:"required,min=10,max=20"`
	Label  string `json:"label" validate:"max=64"`
}

type phoneView struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Label  string `json:"label"`
}

func toPhoneView(p account.Phone) phoneView {
	return phoneView{ID: p.ID, Number: p.Number, Label: p.DisplayLabel()}
}

type pointDTO struct {
	Lon float64 `json:"lon" validate:"min=-180,max=180"`
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
}

type settingsRequest struct {
	Hospital        *pointDTO `json:"hospital"`
	DefaultAlertSec int64     `json:"default_alert_sec" validate:"min=0"`
}

type settingsView struct {
	Hospital        *pointDTO `json:"hospital,omitempty"`
	DefaultAlertSec int64     `json:"default_alert_sec"`
}

type registerAmbulanceRequest struct {
	Name     string   `json:"name" validate:"required,max=64"`
	Position pointDTO `json:"position"`
}

type reportLocationRequest struct {
	Position   pointDTO   `json:"position"`
	ObservedAt *time.Time `json:"observed_at"`
}

type reportLocationResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type ambulanceView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Position   *pointDTO  `json:"position,omitempty"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

func toAmbulanceView(a *ambulance.Ambulance) ambulanceView {
	v := ambulanceView{ID: a.ID, Name: a.Name}
	if !a.LastUpdate.IsZero() {
		t := a.LastUpdate
		v.LastUpdate = &t
		v.Position = &pointDTO{Lon: a.Lon, Lat: a.Lat}
	}
	return v
}

type openSessionRequest struct {
	AmbulanceID   string `json:"ambulance_id" validate:"required"`
	Description   string `json:"description" validate:"max=255"`
	Urgency       string `json:"urgency" validate:"max=32"`
	SelfNotify    bool   `json:"self_notify"`
	SelfNotifySec *int64 `json:"self_notify_sec"`
}

type addTriggerRequest struct {
	OffsetSec *int64  `json:"offset_sec"`
	PhoneID   *string `json:"phone_id"`
}

type triggerView struct {
	ID          string     `json:"id"`
	OffsetSec   *int64     `json:"offset_sec"`
	PhoneID     *string    `json:"phone_id,omitempty"`
	Fulfilled   bool       `json:"fulfilled"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

func toTriggerView(t tracking.ETATrigger) triggerView {
	return triggerView{
		ID:          t.ID,
		OffsetSec:   t.OffsetSec,
		PhoneID:     t.PhoneID,
		Fulfilled:   t.Fulfilled,
		FulfilledAt: t.FulfilledAt,
	}
}

// sessionView 会话状态。ETA 未知时 eta 字段输出字符串 "unknown"。
type sessionView struct {
	ID          string     `json:"id"`
	AmbulanceID string     `json:"ambulance_id"`
	Description string     `json:"description,omitempty"`
	Urgency     string     `json:"urgency,omitempty"`
	Status      string     `json:"status"`
	ETA         string     `json:"eta"`
	ETATime     *time.Time `json:"eta_time,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	Destination *pointDTO  `json:"destination,omitempty"`
	SelfNotify  *int64     `json:"self_notify_sec,omitempty"`
}

func toSessionView(s *tracking.TrackingSession) sessionView {
	v := sessionView{
		ID:          s.ID,
		AmbulanceID: s.AmbulanceID,
		Description: s.Description,
		Urgency:     s.Urgency,
		Status:      string(s.Status()),
		ETA:         "unknown",
		ArrivedAt:   s.ArrivedAt,
		SelfNotify:  s.SelfNotifySec,
	}
	if s.ETA != nil {
		v.ETA = s.ETA.Format(time.RFC3339)
		t := *s.ETA
		v.ETATime = &t
	}
	if p, ok := s.Destination(); ok {
		v.Destination = &pointDTO{Lon: p.Lon, Lat: p.Lat}
	}
	return v
}
