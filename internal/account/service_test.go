package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/config"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Account{}, &Phone{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	authCfg := config.AuthConfig{
		JWTSecret:   "test-secret",
		Issuer:      "tracker-service",
		TokenTTLSec: 3600,
	}
	return NewService(NewRepo(db), authCfg)
}

func TestOwnershipHierarchy(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, rootPass, err := svc.CreateSiteAdmin(ctx, "root")
	if err != nil {
		t.Fatalf("create site admin: %v", err)
	}
	if rootPass == "" || !root.PasswordResetNeeded {
		t.Fatalf("new account must carry a temp password and reset flag: %q %v", rootPass, root.PasswordResetNeeded)
	}

	admin, _, err := svc.CreateAccount(ctx, root.ID, RoleAdmin, "admin1")
	if err != nil {
		t.Fatalf("site admin should create admin: %v", err)
	}
	user, _, err := svc.CreateAccount(ctx, admin.ID, RoleUser, "user1")
	if err != nil {
		t.Fatalf("admin should create user: %v", err)
	}

	// 越级和平级都被拒
	if _, _, err := svc.CreateAccount(ctx, root.ID, RoleUser, "u2"); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("site admin creating user must fail, got %v", err)
	}
	if _, _, err := svc.CreateAccount(ctx, admin.ID, RoleAdmin, "a2"); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("admin creating admin must fail, got %v", err)
	}
	if _, _, err := svc.CreateAccount(ctx, user.ID, RoleUser, "u3"); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("user creating anything must fail, got %v", err)
	}

	if _, _, err := svc.CreateAccount(ctx, root.ID, RoleAdmin, "admin1"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate username must fail, got %v", err)
	}

	chain, err := svc.OwnershipChain(ctx, user.ID)
	if err != nil {
		t.Fatalf("ownership chain: %v", err)
	}
	if len(chain) != 3 || chain[0].ID != user.ID || chain[2].ID != root.ID {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestResetPasswordRequiresCorrectOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, _, _ := svc.CreateSiteAdmin(ctx, "root")
	admin, _, _ := svc.CreateAccount(ctx, root.ID, RoleAdmin, "admin1")
	user, _, _ := svc.CreateAccount(ctx, admin.ID, RoleUser, "user1")

	// 非所有者（包括本人）不能重置
	if _, err := svc.ResetPassword(ctx, user.ID, user.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("self reset must fail, got %v", err)
	}
	if _, err := svc.ResetPassword(ctx, root.ID, user.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("grandparent reset must fail, got %v", err)
	}

	newPass, err := svc.ResetPassword(ctx, admin.ID, user.ID)
	if err != nil {
		t.Fatalf("owner reset: %v", err)
	}
	res, err := svc.Login(ctx, "user1", newPass)
	if err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
	if !res.PasswordResetNeeded {
		t.Fatal("reset password must require a change")
	}
}

func TestLoginAndPasswordChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, tempPass, _ := svc.CreateSiteAdmin(ctx, "root")

	if _, err := svc.Login(ctx, "root", "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("wrong password must fail, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost", tempPass); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("unknown username must look like a wrong password, got %v", err)
	}

	res, err := svc.Login(ctx, "root", tempPass)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.PasswordResetNeeded {
		t.Fatal("temp password login must demand a change")
	}
	if len(res.Token) == 0 {
		t.Fatal("no token issued")
	}

	if err := svc.ChangePassword(ctx, root.ID, "wrong", "NewPass123!"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("change with wrong current must fail, got %v", err)
	}
	if err := svc.ChangePassword(ctx, root.ID, tempPass, "NewPass123!"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	res, err = svc.Login(ctx, "root", "NewPass123!")
	if err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if res.PasswordResetNeeded {
		t.Fatal("reset flag must clear after a change")
	}
	if _, err := svc.Login(ctx, "root", tempPass); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestDeleteAccountRequiresOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, _, _ := svc.CreateSiteAdmin(ctx, "root")
	admin, _, _ := svc.CreateAccount(ctx, root.ID, RoleAdmin, "admin1")
	user, _, _ := svc.CreateAccount(ctx, admin.ID, RoleUser, "user1")

	if err := svc.DeleteAccount(ctx, root.ID, user.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner delete must fail, got %v", err)
	}
	if err := svc.DeleteAccount(ctx, admin.ID, user.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := svc.Get(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted account still found: %v", err)
	}
}

func TestSettingsDefaultsAndCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, _, _ := svc.CreateSiteAdmin(ctx, "root")

	got, err := svc.GetSettings(ctx, root.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.DefaultAlert != 15*time.Minute {
		t.Fatalf("default alert = %v, want 15m", got.DefaultAlert)
	}
	if got.Hospital != nil {
		t.Fatalf("hospital should start unset, got %+v", got.Hospital)
	}

	hospital := geo.Point{Lon: -74.0060, Lat: 40.7128}
	err = svc.SetSettings(ctx, root.ID, Settings{Hospital: &hospital, DefaultAlert: 2 * time.Hour})
	if err != nil {
		t.Fatalf("set settings: %v", err)
	}
	got, err = svc.GetSettings(ctx, root.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.DefaultAlert != 2*time.Hour || got.Hospital == nil || got.Hospital.Lat != 40.7128 {
		t.Fatalf("settings not stored: %+v", got)
	}

	err = svc.SetSettings(ctx, root.ID, Settings{DefaultAlert: 7 * time.Hour})
	if !errors.Is(err, ErrAlertTooLong) {
		t.Fatalf("alert above cap must fail, got %v", err)
	}
}

func TestPhoneLifecycleAndLabels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root, _, _ := svc.CreateSiteAdmin(ctx, "root")
	other, _, _ := svc.CreateAccount(ctx, root.ID, RoleAdmin, "admin1")

	labeled, err := svc.AddPhone(ctx, root.ID, "012-345-6789", "Home")
	if err != nil {
		t.Fatalf("add phone: %v", err)
	}
	bare, err := svc.AddPhone(ctx, root.ID, "9876543210", "")
	if err != nil {
		t.Fatalf("add phone: %v", err)
	}
	if _, err := svc.AddPhone(ctx, root.ID, "123", "short"); err == nil {
		t.Fatal("short number must be rejected")
	}

	phones, err := svc.Phones(ctx, root.ID)
	if err != nil || len(phones) != 2 {
		t.Fatalf("phones: %v (%d)", err, len(phones))
	}

	// 标签优先，无标签回退到排版后的号码
	if desc, _ := svc.Describe(ctx, labeled.ID); desc != "Home" {
		t.Fatalf("labeled describe = %q", desc)
	}
	if desc, _ := svc.Describe(ctx, bare.ID); desc != "(987) 654-3210" {
		t.Fatalf("bare describe = %q", desc)
	}

	// 别人的账号删不掉我的手机号
	if err := svc.DeletePhone(ctx, other.ID, labeled.ID); !errors.Is(err, ErrPhoneNotFound) {
		t.Fatalf("cross-account delete must fail, got %v", err)
	}
	if err := svc.DeletePhone(ctx, root.ID, labeled.ID); err != nil {
		t.Fatalf("delete phone: %v", err)
	}
	phones, _ = svc.Phones(ctx, root.ID)
	if len(phones) != 1 {
		t.Fatalf("expected 1 phone left, got %d", len(phones))
	}
}
