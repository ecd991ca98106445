package account

import (
	"fmt"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// Role 账号角色。所有权单向：site_admin 管 admin，admin 管 user。
type Role string

const (
	RoleSiteAdmin Role = "site_admin"
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
)

// Valid 角色字符串是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleSiteAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// CanOwn 判断本角色能否拥有（创建、重置密码、删除）目标角色的账号。
func (r Role) CanOwn(target Role) bool {
	switch {
	case r == RoleSiteAdmin && target == RoleAdmin:
		return true
	case r == RoleAdmin && target == RoleUser:
		return true
	}
	return false
}

// Account 账号 GORM 模型。owner_id 指向创建者，site_admin 无主。
// 医院坐标与默认提醒提前量属于观察者偏好，建追踪会话时被快照走。
type Account struct {
	ID       string `gorm:"primaryKey;size:36"`
	Username string `gorm:"uniqueIndex;size:64;not null"`

	PasswordHash        string `gorm:"size:128;not null"`
	PasswordSalt        string `gorm:"size:64;not null"`
	PasswordResetNeeded bool   `gorm:"not null;default:false"`

	Role    Role    `gorm:"size:16;not null"`
	OwnerID *string `gorm:"index;size:36"`

	HospitalLon     *float64
	HospitalLat     *float64
	DefaultAlertSec int64 `gorm:"not null;default:900"` // 默认 15 分钟

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Hospital 医院坐标（未设置返回 ok=false）。
func (a Account) Hospital() (geo.Point, bool) {
	if a.HospitalLon == nil || a.HospitalLat == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lon: *a.HospitalLon, Lat: *a.HospitalLat}, true
}

// DefaultAlert 默认提醒提前量。
func (a Account) DefaultAlert() time.Duration {
	return time.Duration(a.DefaultAlertSec) * time.Second
}

// Phone 账号名下的通知手机号。
type Phone struct {
	ID        string  `gorm:"primaryKey;size:36"`
	AccountID string  `gorm:"index;size:36;not null"`
	Number    string  `gorm:"size:20;not null"`
	Label     *string `gorm:"size:64"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// DisplayLabel 手机号展示名：有标签用标签，否则按 (xxx) xxx-xxxx 排版号码。
func (p Phone) DisplayLabel() string {
	if p.Label != nil && *p.Label != "" {
		return *p.Label
	}
	return prettyPhone(p.Number)
}

func prettyPhone(number string) string {
	if len(number) != 10 {
		return number
	}
	return fmt.Sprintf("(%s) %s-%s", number[0:3], number[3:6], number[6:10])
}
