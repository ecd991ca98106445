package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.loginLimiter != nil && !a.loginLimiter.Allow(r.Context()) {
		a.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many login attempts"})
		return
	}
	var req loginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := a.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, loginResponse{
		Token:               res.Token,
		ExpiresAt:           res.ExpiresAt,
		AccountID:           res.Account.ID,
		Role:                string(res.Account.Role),
		PasswordResetNeeded: res.PasswordResetNeeded,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, true)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.accounts.ChangePassword(r.Context(), subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	var req createAccountRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	acc, tempPass, err := a.accounts.CreateAccount(r.Context(), subject, account.Role(req.Role), req.Username)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, createAccountResponse{
		AccountID:    acc.ID,
		Username:     acc.Username,
		Role:         string(acc.Role),
		TempPassword: tempPass,
	})
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	if err := a.accounts.DeleteAccount(r.Context(), subject, ps.ByName("id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	tempPass, err := a.accounts.ResetPassword(r.Context(), subject, ps.ByName("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resetPasswordResponse{TempPassword: tempPass})
}

func (a *API) handleListPhones(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	phones, err := a.accounts.Phones(r.Context(), subject)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]phoneView, 0, len(phones))
	for _, p := range phones {
		views = append(views, toPhoneView(p))
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleAddPhone(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	var req addPhoneRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	p, err := a.accounts.AddPhone(r.Context(), subject, req.Number, req.Label)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toPhoneView(*p))
}

func (a *API) handleDeletePhone(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	if err := a.accounts.DeletePhone(r.Context(), subject, ps.ByName("id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	s, err := a.accounts.GetSettings(r.Context(), subject)
	if err != nil {
		a.writeError(w, err)
		return
	}
	view := settingsView{DefaultAlertSec: int64(s.DefaultAlert.Seconds())}
	if s.Hospital != nil {
		view.Hospital = &pointDTO{Lon: s.Hospital.Lon, Lat: s.Hospital.Lat}
	}
	a.writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subject, ok := a.subject(w, r, false)
	if !ok {
		return
	}
	var req settingsRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	settings := account.Settings{
		DefaultAlert: time.Duration(req.DefaultAlertSec) * time.Second,
	}
	if req.Hospital != nil {
		settings.Hospital = &geo.Point{Lon: req.Hospital.Lon, Lat: req.Hospital.Lat}
	}
	if err := a.accounts.SetSettings(r.Context(), subject, settings); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}
