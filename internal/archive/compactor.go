package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

// Compactor 归档压缩器：把到达已久的会话连同触发器搬进归档表，
// 再从活跃表删除，释放 (observer, ambulance) 配对。
// 单个会话的搬运是一个事务，崩溃后重跑要么补完要么无事发生。
type Compactor struct {
	db        *gorm.DB
	sessions  *tracking.Repo
	retention time.Duration
	log       logger.Logger

	now func() time.Time
}

func NewCompactor(db *gorm.DB, sessions *tracking.Repo, retention time.Duration, log logger.Logger) *Compactor {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Compactor{
		db:        db,
		sessions:  sessions,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// CompactOnce 跑一轮归档，返回搬运的会话数。
// 单个会话失败只记日志，继续处理剩余会话。
func (c *Compactor) CompactOnce(ctx context.Context) (int, error) {
	if c == nil || c.db == nil || c.sessions == nil {
		return 0, fmt.Errorf("compactor not initialized")
	}

	cutoff := c.now().Add(-c.retention)
	candidates, err := c.sessions.ListArrivedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list sessions to archive: %w", err)
	}

	moved := 0
	for i := range candidates {
		if err := c.archiveSession(ctx, candidates[i].ID); err != nil {
			c.logErrorf("archive session %s failed: %v", candidates[i].ID, err)
			continue
		}
		moved++
	}
	if moved > 0 {
		c.logInfof("archived %d tracking sessions", moved)
	}
	return moved, nil
}

// archiveSession 事务内搬运单个会话：
// 落一条到达位置快照和一条最终 ETA 快照，复制会话行和触发器行到归档表，
// 然后删除活跃行。会话已被别的归档轮次搬走时是无害的空操作。
func (c *Compactor) archiveSession(ctx context.Context, sessionID string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess tracking.TrackingSession
		if err := tx.Where("id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if sess.ArrivedAt == nil {
			// 归档只处理已到达的会话
			return nil
		}

		if err := c.writeHistory(tx, &sess); err != nil {
			return err
		}

		archived := ArchivedSession{
			ID:              sess.ID,
			ObserverID:      sess.ObserverID,
			AmbulanceID:     sess.AmbulanceID,
			Description:     sess.Description,
			Urgency:         sess.Urgency,
			DestLon:         sess.DestLon,
			DestLat:         sess.DestLat,
			ETA:             sess.ETA,
			ETACalculatedAt: sess.ETACalculatedAt,
			LastObservedAt:  sess.LastObservedAt,
			SelfNotifySec:   sess.SelfNotifySec,
			SelfNotifiedAt:  sess.SelfNotifiedAt,
			CreatedAt:       sess.CreatedAt,
			ArrivedAt:       *sess.ArrivedAt,
			ArchivedAt:      c.now(),
		}
		if err := tx.Create(&archived).Error; err != nil {
			return err
		}

		var triggers []tracking.ETATrigger
		if err := tx.Where("session_id = ?", sess.ID).Find(&triggers).Error; err != nil {
			return err
		}
		for i := range triggers {
			t := triggers[i]
			if err := tx.Create(&ArchivedTrigger{
				ID:          t.ID,
				SessionID:   t.SessionID,
				OffsetSec:   t.OffsetSec,
				PhoneID:     t.PhoneID,
				Fulfilled:   t.Fulfilled,
				FulfilledAt: t.FulfilledAt,
				CreatedAt:   t.CreatedAt,
			}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("session_id = ?", sess.ID).Delete(&tracking.ETATrigger{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sess.ID).Delete(&tracking.TrackingSession{}).Error
	})
}

// writeHistory 落会话的终态快照：车辆到达位置一条，最终 ETA 计算一条。
// 车辆行已不存在时只能跳过快照，会话搬运照常进行。
func (c *Compactor) writeHistory(tx *gorm.DB, sess *tracking.TrackingSession) error {
	var amb ambulance.Ambulance
	if err := tx.Where("id = ?", sess.AmbulanceID).First(&amb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logErrorf("ambulance %s missing, history snapshot for session %s skipped", sess.AmbulanceID, sess.ID)
			return nil
		}
		return err
	}

	loc := LocationHistoryRecord{
		AmbulanceID: amb.ID,
		Name:        amb.Name,
		Lon:         amb.Lon,
		Lat:         amb.Lat,
		RecordedAt:  *sess.ArrivedAt,
	}
	if err := tx.Create(&loc).Error; err != nil {
		return err
	}

	// ETA 从未算出的会话（无目的地或车辆从未上报）没有最终 ETA 快照
	if sess.ETA == nil || sess.DestLon == nil || sess.DestLat == nil {
		return nil
	}
	calculatedAt := *sess.ArrivedAt
	if sess.ETACalculatedAt != nil {
		calculatedAt = *sess.ETACalculatedAt
	}
	rec := ETAHistoryRecord{
		AmbulanceID:  amb.ID,
		FromLon:      amb.Lon,
		FromLat:      amb.Lat,
		ToLon:        *sess.DestLon,
		ToLat:        *sess.DestLat,
		ETA:          *sess.ETA,
		CalculatedAt: calculatedAt,
	}
	return tx.Create(&rec).Error
}

// Run 周期归档循环，ctx 取消即退出。
func (c *Compactor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logInfof("archive compactor started, interval %s retention %s", interval, c.retention)
	for {
		select {
		case <-ctx.Done():
			c.logInfof("archive compactor stopped")
			return
		case <-ticker.C:
			if _, err := c.CompactOnce(ctx); err != nil {
				c.logErrorf("compact round failed: %v", err)
			}
		}
	}
}

func (c *Compactor) logErrorf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Errorf(format, args...)
	}
}

func (c *Compactor) logInfof(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Infof(format, args...)
	}
}
