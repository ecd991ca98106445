package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound 指定会话不存在（或已归档删除）。
	ErrSessionNotFound = errors.New("tracking session not found")
	// ErrTriggerNotFound 指定触发器不存在。
	ErrTriggerNotFound = errors.New("eta trigger not found")
	// ErrDuplicateActiveSession 同一 (observer, ambulance) 已存在未归档会话。
	ErrDuplicateActiveSession = errors.New("tracking session already exists for this observer and ambulance")
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

// CreateSession 建立新会话；(observer, ambulance) 唯一冲突映射为业务错误。
func (r *Repo) CreateSession(ctx context.Context, s *TrackingSession) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	if err := db.Create(s).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateActiveSession
		}
		return err
	}
	return nil
}

func (r *Repo) FindSession(ctx context.Context, id string) (*TrackingSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var s TrackingSession
	if err := db.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ActiveByAmbulance 指定救护车的全部活跃会话（ETA 扇出重算的目标集合）。
func (r *Repo) ActiveByAmbulance(ctx context.Context, ambulanceID string) ([]TrackingSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var sessions []TrackingSession
	err := db.Where("ambulance_id = ? AND arrived_at IS NULL", ambulanceID).Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListActive 全部活跃会话（通知调度器周期扫描用）。
func (r *Repo) ListActive(ctx context.Context) ([]TrackingSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var sessions []TrackingSession
	if err := db.Where("arrived_at IS NULL").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListByObserver 指定观察者的全部未归档会话。
func (r *Repo) ListByObserver(ctx context.Context, observerID string) ([]TrackingSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var sessions []TrackingSession
	err := db.Where("observer_id = ?", observerID).Order("created_at").Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListArrivedBefore 在 cutoff 之前到达、等待归档的会话。
func (r *Repo) ListArrivedBefore(ctx context.Context, cutoff time.Time) ([]TrackingSession, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var sessions []TrackingSession
	err := db.Where("arrived_at IS NOT NULL AND arrived_at < ?", cutoff).Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateETA 条件覆盖会话 ETA。写入守卫：
//   - arrived_at IS NULL（终态检查是写前最后一道关卡，到达后 ETA 永不再变）
//   - last_observed_at 不晚于本次上报时间（乱序重算结果静默丢弃）
//
// 命中返回 true；会话不存在返回 ErrSessionNotFound。
func (r *Repo) UpdateETA(ctx context.Context, sessionID string, eta *time.Time, calculatedAt, observedAt time.Time) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}

	res := db.Model(&TrackingSession{}).
		Where("id = ? AND arrived_at IS NULL AND (last_observed_at IS NULL OR last_observed_at <= ?)", sessionID, observedAt).
		Updates(map[string]interface{}{
			"eta":               eta,
			"eta_calculated_at": calculatedAt,
			"last_observed_at":  observedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&TrackingSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrSessionNotFound
	}
	return false, nil
}

// MarkArrived 置终态。WHERE arrived_at IS NULL 保证只置一次，
// 并发的到达判定和手动关闭最多一个生效。
func (r *Repo) MarkArrived(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}

	res := db.Model(&TrackingSession{}).
		Where("id = ? AND arrived_at IS NULL", sessionID).
		Update("arrived_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&TrackingSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrSessionNotFound
	}
	return false, nil
}

// DismissSelfAlert 撤销会话本人提醒（self_notify_sec 清空，未触发的提醒不再发出）。
func (r *Repo) DismissSelfAlert(ctx context.Context, sessionID string) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	res := db.Model(&TrackingSession{}).
		Where("id = ?", sessionID).
		Update("self_notify_sec", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkSelfNotified 记录本人提醒已发出（与 fulfill 同样的 CAS 语义）。
func (r *Repo) MarkSelfNotified(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	res := db.Model(&TrackingSession{}).
		Where("id = ? AND self_notified_at IS NULL AND self_notify_sec IS NOT NULL", sessionID).
		Update("self_notified_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateTrigger 为会话登记一条 ETA 提醒。
func (r *Repo) CreateTrigger(ctx context.Context, t *ETATrigger) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(t).Error
}

func (r *Repo) FindTrigger(ctx context.Context, id string) (*ETATrigger, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var t ETATrigger
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTriggerNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TriggersBySession 会话的全部触发器（含已完成的，供展示）。
func (r *Repo) TriggersBySession(ctx context.Context, sessionID string) ([]ETATrigger, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var triggers []ETATrigger
	err := db.Where("session_id = ?", sessionID).Order("created_at").Find(&triggers).Error
	if err != nil {
		return nil, err
	}
	return triggers, nil
}

// UnfulfilledBySession 会话中尚未完成的触发器（到期判定的候选集）。
func (r *Repo) UnfulfilledBySession(ctx context.Context, sessionID string) ([]ETATrigger, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var triggers []ETATrigger
	err := db.Where("session_id = ? AND fulfilled = ?", sessionID, false).Find(&triggers).Error
	if err != nil {
		return nil, err
	}
	return triggers, nil
}

// FulfillTrigger 将触发器原子置为已完成（false -> true 的 CAS）。
// 返回 true 表示本调用赢得了置位权，负责计账的恰好一次由此保证。
func (r *Repo) FulfillTrigger(ctx context.Context, triggerID string, at time.Time) (bool, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return false, fmt.Errorf("repo db is nil")
	}
	res := db.Model(&ETATrigger{}).
		Where("id = ? AND fulfilled = ?", triggerID, false).
		Updates(map[string]interface{}{
			"fulfilled":    true,
			"fulfilled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
