package account

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 账号不存在。
	ErrNotFound = errors.New("account not found")
	// ErrPhoneNotFound 手机号不存在（或不属于该账号）。
	ErrPhoneNotFound = errors.New("phone not found")
	// ErrUsernameTaken 用户名已被占用。
	ErrUsernameTaken = errors.New("username already taken")
	// ErrNotOwner 操作者不是目标账号的所有者。
	ErrNotOwner = errors.New("account is not owned by this operator")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) withCtx(ctx context.Context) *gorm.DB {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx)
}

func (r *Repo) Create(ctx context.Context, a *Account) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	if err := db.Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Account, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var a Account
	if err := db.Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repo) FindByUsername(ctx context.Context, username string) (*Account, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var a Account
	if err := db.Where("username = ?", username).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateCredentials 覆盖账号口令，并按需设置强制改密标记。
// ownerID 非空时附带所有权条件，越权的重置静默落空并返回 ErrNotOwner。
func (r *Repo) UpdateCredentials(ctx context.Context, accountID string, ownerID *string, saltHex, hashHex string, resetNeeded bool) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}

	q := db.Model(&Account{}).Where("id = ?", accountID)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	res := q.Updates(map[string]interface{}{
		"password_salt":         saltHex,
		"password_hash":         hashHex,
		"password_reset_needed": resetNeeded,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if ownerID != nil {
			return ErrNotOwner
		}
		return ErrNotFound
	}
	return nil
}

// DeleteOwned 删除被 ownerID 拥有的账号，顺带清理其手机号。
func (r *Repo) DeleteOwned(ctx context.Context, ownerID, accountID string) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", accountID, ownerID).Delete(&Account{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotOwner
		}
		return tx.Where("account_id = ?", accountID).Delete(&Phone{}).Error
	})
}

// UpdateSettings 覆盖观察者偏好（医院坐标与默认提醒提前量）。
func (r *Repo) UpdateSettings(ctx context.Context, accountID string, lon, lat *float64, alertSec int64) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := db.Model(&Account{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"hospital_lon":      lon,
		"hospital_lat":      lat,
		"default_alert_sec": alertSec,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) CreatePhone(ctx context.Context, p *Phone) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(p).Error
}

func (r *Repo) PhonesByAccount(ctx context.Context, accountID string) ([]Phone, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var phones []Phone
	err := db.Where("account_id = ?", accountID).Order("created_at").Find(&phones).Error
	if err != nil {
		return nil, err
	}
	return phones, nil
}

func (r *Repo) FindPhone(ctx context.Context, phoneID string) (*Phone, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var p Phone
	if err := db.Where("id = ?", phoneID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPhoneNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DeletePhone 删除账号名下的手机号；不属于该账号的删除落空。
func (r *Repo) DeletePhone(ctx context.Context, accountID, phoneID string) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := db.Where("id = ? AND account_id = ?", phoneID, accountID).Delete(&Phone{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPhoneNotFound
	}
	return nil
}
