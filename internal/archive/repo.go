package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
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

// RecordETA 落一条外部 ETA 计算快照。
func (r *Repo) RecordETA(ctx context.Context, ambulanceID string, from, to geo.Point, eta, calculatedAt time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	rec := ETAHistoryRecord{
		AmbulanceID:  ambulanceID,
		FromLon:      from.Lon,
		FromLat:      from.Lat,
		ToLon:        to.Lon,
		ToLat:        to.Lat,
		ETA:          eta,
		CalculatedAt: calculatedAt,
	}
	return db.Create(&rec).Error
}

// ETAHistory 指定救护车的 ETA 快照，按计算时间倒序。
func (r *Repo) ETAHistory(ctx context.Context, ambulanceID string, limit int) ([]ETAHistoryRecord, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	var records []ETAHistoryRecord
	err := db.Where("ambulance_id = ?", ambulanceID).
		Order("calculated_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SessionsByObserver 观察者名下的归档会话，按到达时间倒序。
func (r *Repo) SessionsByObserver(ctx context.Context, observerID string) ([]ArchivedSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var sessions []ArchivedSession
	err := db.Where("observer_id = ?", observerID).
		Order("arrived_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
