package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/auth"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/config"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

var (
	// ErrRoleNotAllowed 操作者角色不允许拥有目标角色的账号。
	ErrRoleNotAllowed = errors.New("site_admin can only create admins, admin can only create users")
	// ErrIncorrectPassword 口令不正确。
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrAlertTooLong 默认提醒提前量超过上限。
	ErrAlertTooLong = errors.New("default alert exceeds maximum of 6 hours")
)

// RolePasswordReset 强制改密状态下的受限角色：
// 持它的 token 只够访问改密接口，改密成功后重新登录拿正常角色。
const RolePasswordReset = "password_reset"

// maxDefaultAlert 观察者默认提醒提前量上限。
const maxDefaultAlert = 6 * time.Hour

// Service 账号管理：分层所有权、临时口令发放、登录签发 JWT、观察者偏好。
type Service struct {
	repo    *Repo
	authCfg config.AuthConfig
}

func NewService(repo *Repo, authCfg config.AuthConfig) *Service {
	return &Service{repo: repo, authCfg: authCfg}
}

// newCredentials 生成一套 (临时口令, 盐, 哈希)。
func newCredentials() (password, saltHex, hashHex string, err error) {
	password, err = GenerateTempPassword(TempPasswordLength)
	if err != nil {
		return "", "", "", err
	}
	saltHex, err = GenerateSaltHex()
	if err != nil {
		return "", "", "", err
	}
	hashHex, err = HashPassword(password, saltHex)
	if err != nil {
		return "", "", "", err
	}
	return password, saltHex, hashHex, nil
}

// CreateSiteAdmin 建站点管理员（无主账号，部署引导时用）。
// 返回必须改掉的临时口令。
func (s *Service) CreateSiteAdmin(ctx context.Context, username string) (*Account, string, error) {
	return s.create(ctx, nil, RoleSiteAdmin, username)
}

// CreateAccount 由 owner 建下级账号：site_admin 建 admin，admin 建 user。
func (s *Service) CreateAccount(ctx context.Context, ownerID string, role Role, username string) (*Account, string, error) {
	if !role.Valid() {
		return nil, "", fmt.Errorf("unknown role %q", role)
	}
	owner, err := s.repo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, "", err
	}
	if !owner.Role.CanOwn(role) {
		return nil, "", ErrRoleNotAllowed
	}
	return s.create(ctx, &owner.ID, role, username)
}

func (s *Service) create(ctx context.Context, ownerID *string, role Role, username string) (*Account, string, error) {
	if s == nil || s.repo == nil {
		return nil, "", fmt.Errorf("service not initialized")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", fmt.Errorf("username required")
	}

	password, saltHex, hashHex, err := newCredentials()
	if err != nil {
		return nil, "", err
	}

	a := &Account{
		ID:                  uuid.NewString(),
		Username:            username,
		PasswordHash:        hashHex,
		PasswordSalt:        saltHex,
		PasswordResetNeeded: true,
		Role:                role,
		OwnerID:             ownerID,
		DefaultAlertSec:     900,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, "", err
	}
	return a, password, nil
}

// ResetPassword 所有者给名下账号重置口令，返回新的临时口令。
func (s *Service) ResetPassword(ctx context.Context, ownerID, accountID string) (string, error) {
	if s == nil || s.repo == nil {
		return "", fmt.Errorf("service not initialized")
	}
	password, saltHex, hashHex, err := newCredentials()
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateCredentials(ctx, accountID, &ownerID, saltHex, hashHex, true); err != nil {
		return "", err
	}
	return password, nil
}

// ChangePassword 本人改密：校验当前口令，成功后清除强制改密标记。
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	if next == "" {
		return fmt.Errorf("new password required")
	}
	a, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !VerifyPassword(current, a.PasswordSalt, a.PasswordHash) {
		return ErrIncorrectPassword
	}

	saltHex, err := GenerateSaltHex()
	if err != nil {
		return err
	}
	hashHex, err := HashPassword(next, saltHex)
	if err != nil {
		return err
	}
	return s.repo.UpdateCredentials(ctx, accountID, nil, saltHex, hashHex, false)
}

// DeleteAccount 所有者删除名下账号。
func (s *Service) DeleteAccount(ctx context.Context, ownerID, accountID string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	return s.repo.DeleteOwned(ctx, ownerID, accountID)
}

// LoginResult 登录结果。强制改密状态下 token 只带受限角色。
type LoginResult struct {
	Account             *Account
	Token               string
	ExpiresAt           time.Time
	PasswordResetNeeded bool
}

// Login 用户名口令登录，签发 JWT。
// 口令错误与账号不存在返回同一个错误，不暴露用户名是否存在。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	a, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrIncorrectPassword
		}
		return nil, err
	}
	if !VerifyPassword(password, a.PasswordSalt, a.PasswordHash) {
		return nil, ErrIncorrectPassword
	}

	roles := []string{string(a.Role)}
	if a.PasswordResetNeeded {
		roles = []string{RolePasswordReset}
	}
	token, expiresAt, err := auth.GenerateAccessToken(s.authCfg, a.ID, roles, s.authCfg.TokenTTL())
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Account:             a,
		Token:               token,
		ExpiresAt:           expiresAt,
		PasswordResetNeeded: a.PasswordResetNeeded,
	}, nil
}

// Get 按 id 查账号。
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.FindByID(ctx, id)
}

// OwnershipChain 从账号向上走 owner 链（含自身，直到无主账号）。
func (s *Service) OwnershipChain(ctx context.Context, accountID string) ([]Account, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	var chain []Account
	seen := map[string]bool{}
	id := accountID
	for id != "" && !seen[id] {
		seen[id] = true
		a, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *a)
		if a.OwnerID == nil {
			break
		}
		id = *a.OwnerID
	}
	return chain, nil
}

// Settings 观察者偏好。
type Settings struct {
	Hospital     *geo.Point
	DefaultAlert time.Duration
}

// GetSettings 读观察者偏好。
func (s *Service) GetSettings(ctx context.Context, accountID string) (*Settings, error) {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := &Settings{DefaultAlert: a.DefaultAlert()}
	if p, ok := a.Hospital(); ok {
		out.Hospital = &p
	}
	return out, nil
}

// SetSettings 写观察者偏好；提前量超过 6 小时拒绝。
func (s *Service) SetSettings(ctx context.Context, accountID string, settings Settings) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	if settings.DefaultAlert < 0 {
		return fmt.Errorf("default alert must not be negative")
	}
	if settings.DefaultAlert > maxDefaultAlert {
		return ErrAlertTooLong
	}

	var lon, lat *float64
	if settings.Hospital != nil {
		l, t := settings.Hospital.Lon, settings.Hospital.Lat
		lon, lat = &l, &t
	}
	return s.repo.UpdateSettings(ctx, accountID, lon, lat, int64(settings.DefaultAlert.Seconds()))
}

// AddPhone 给账号登记通知手机号。号码只留数字。
func (s *Service) AddPhone(ctx context.Context, accountID, number, label string) (*Phone, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if _, err := s.repo.FindByID(ctx, accountID); err != nil {
		return nil, err
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 10 {
		return nil, fmt.Errorf("phone number must have at least 10 digits")
	}

	p := &Phone{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Number:    digits,
	}
	if label = strings.TrimSpace(label); label != "" {
		p.Label = &label
	}
	if err := s.repo.CreatePhone(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Phones 账号名下的手机号列表。
func (s *Service) Phones(ctx context.Context, accountID string) ([]Phone, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if _, err := s.repo.FindByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.PhonesByAccount(ctx, accountID)
}

// DeletePhone 删除账号名下的手机号。
func (s *Service) DeletePhone(ctx context.Context, accountID, phoneID string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	return s.repo.DeletePhone(ctx, accountID, phoneID)
}

// Describe 把 phone id 换成投递展示名（通知调度器的手机号目录实现）。
func (s *Service) Describe(ctx context.Context, phoneID string) (string, error) {
	if s == nil || s.repo == nil {
		return "", fmt.Errorf("service not initialized")
	}
	p, err := s.repo.FindPhone(ctx, phoneID)
	if err != nil {
		return "", err
	}
	return p.DisplayLabel(), nil
}
