package ambulance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// ErrNotFound 指定救护车不存在。
var ErrNotFound = errors.New("ambulance not found")

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

func (r *Repo) Create(ctx context.Context, a *Ambulance) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(a).Error
}

// UpdateLocation 当且仅当 observedAt 不早于已存的 last_update 时更新位置。
// 乱序/重复上报被静默丢弃（accepted=false, err=nil），展示位置永不回退；
// 车辆不存在返回 ErrNotFound。
func (r *Repo) UpdateLocation(ctx context.Context, id string, p geo.Point, observedAt time.Time) (accepted bool, err error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}

	res := db.Model(&Ambulance{}).
		Where("id = ? AND last_update <= ?", id, observedAt).
		Updates(map[string]interface{}{
			"lon":         p.Lon,
			"lat":         p.Lat,
			"last_update": observedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// 没有命中行：区分“车不存在”和“过期上报”
	var count int64
	if err := db.Model(&Ambulance{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Ambulance, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var a Ambulance
	if err := db.Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repo) FindByName(ctx context.Context, name string) (*Ambulance, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var a Ambulance
	if err := db.Where("name = ?", name).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListRecentlyUpdated 返回指定时间窗内有位置更新的救护车。
func (r *Repo) ListRecentlyUpdated(ctx context.Context, window time.Duration, now time.Time) ([]Ambulance, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var ambulances []Ambulance
	if err := db.Where("last_update > ?", now.Add(-window)).Order("last_update desc").Find(&ambulances).Error; err != nil {
		return nil, err
	}
	return ambulances, nil
}
