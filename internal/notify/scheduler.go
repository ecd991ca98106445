package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

// Scheduler 提醒调度器：判定哪些触发器到期，并负责投递与计账。
// 到期判定：
//   - ETA 非空时触发器在 now >= ETA - offset 到期，提前量 NULL 等价于 0（到达时刻）；
//   - 会话到达使所有未完成触发器立即到期（ETA 已成事实）。
//
// 计账走数据库 CAS（fulfilled false -> true），并发判定最多一个生效；
// 投递本身发生在 CAS 之前，失败则留给下一轮重试。
type Scheduler struct {
	sessions *tracking.Repo
	channel  Channel
	phones   PhoneDirectory
	log      logger.Logger

	trigLocks keyedMutex

	now func() time.Time
}

func NewScheduler(sessions *tracking.Repo, channel Channel, phones PhoneDirectory, log logger.Logger) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		channel:  channel,
		phones:   phones,
		log:      log,
		now:      time.Now,
	}
}

// CheckSession 对单个会话做一轮到期判定与投递。
// ETA 重算回调和周期扫描都汇到这里。
func (s *Scheduler) CheckSession(ctx context.Context, sessionID string) {
	if s == nil || s.sessions == nil {
		return
	}

	sess, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		s.logErrorf("load session %s for notification check failed: %v", sessionID, err)
		return
	}
	now := s.now()

	triggers, err := s.sessions.UnfulfilledBySession(ctx, sessionID)
	if err != nil {
		s.logErrorf("list unfulfilled triggers for session %s failed: %v", sessionID, err)
		return
	}
	for i := range triggers {
		if !s.due(sess, triggers[i].OffsetSec, now) {
			continue
		}
		s.dispatchTrigger(ctx, sess, &triggers[i], now)
	}

	s.checkSelfAlert(ctx, sess, now)
}

// due 判定一条提醒登记是否到期。
func (s *Scheduler) due(sess *tracking.TrackingSession, offsetSec *int64, now time.Time) bool {
	if sess.ArrivedAt != nil {
		return true
	}
	if sess.ETA == nil {
		return false
	}
	var offset time.Duration
	if offsetSec != nil {
		offset = time.Duration(*offsetSec) * time.Second
	}
	return !now.Before(sess.ETA.Add(-offset))
}

// dispatchTrigger 投递一条触发器提醒。
// 顺序固定：触发器锁 -> 复核未完成 -> 投递 -> CAS 计账。
func (s *Scheduler) dispatchTrigger(ctx context.Context, sess *tracking.TrackingSession, t *tracking.ETATrigger, now time.Time) {
	mu := s.trigLocks.Lock(t.ID)
	defer mu.Unlock()

	// 锁内复核：另一个并发判定可能已经完成了这条触发器
	fresh, err := s.sessions.FindTrigger(ctx, t.ID)
	if err != nil {
		s.logErrorf("reload trigger %s failed: %v", t.ID, err)
		return
	}
	if fresh.Fulfilled {
		return
	}

	n := Notification{
		SessionID:   sess.ID,
		TriggerID:   t.ID,
		ObserverID:  sess.ObserverID,
		AmbulanceID: sess.AmbulanceID,
		Recipient:   s.describeRecipient(ctx, sess, t.PhoneID),
		ETA:         sess.ETA,
		ArrivedAt:   sess.ArrivedAt,
	}
	if err := s.channel.Deliver(ctx, n); err != nil {
		// 未计账，留给下一轮扫描重试
		s.logErrorf("deliver notification for trigger %s failed: %v", t.ID, err)
		return
	}

	won, err := s.sessions.FulfillTrigger(ctx, t.ID, now)
	if err != nil {
		s.logErrorf("fulfill trigger %s failed: %v", t.ID, err)
		return
	}
	if won {
		s.logInfof("trigger %s fulfilled for session %s", t.ID, sess.ID)
	}
}

// checkSelfAlert 会话本人提醒：与触发器同一套到期规则和投递顺序
// （锁 -> 复核 -> 投递 -> CAS 计账），不同点是可被用户撤销。
func (s *Scheduler) checkSelfAlert(ctx context.Context, sess *tracking.TrackingSession, now time.Time) {
	if sess.SelfNotifySec == nil || sess.SelfNotifiedAt != nil {
		return
	}
	if !s.due(sess, sess.SelfNotifySec, now) {
		return
	}

	mu := s.trigLocks.Lock("self:" + sess.ID)
	defer mu.Unlock()

	// 锁内复核：并发判定可能已经发过，用户也可能刚撤销
	fresh, err := s.sessions.FindSession(ctx, sess.ID)
	if err != nil {
		s.logErrorf("reload session %s for self alert failed: %v", sess.ID, err)
		return
	}
	if fresh.SelfNotifySec == nil || fresh.SelfNotifiedAt != nil {
		return
	}

	n := Notification{
		SessionID:   sess.ID,
		ObserverID:  sess.ObserverID,
		AmbulanceID: sess.AmbulanceID,
		Recipient:   "observer " + sess.ObserverID,
		ETA:         fresh.ETA,
		ArrivedAt:   fresh.ArrivedAt,
	}
	if err := s.channel.Deliver(ctx, n); err != nil {
		// 未计账，留给下一轮扫描重试
		s.logErrorf("deliver self alert for session %s failed: %v", sess.ID, err)
		return
	}

	if _, err := s.sessions.MarkSelfNotified(ctx, sess.ID, now); err != nil {
		s.logErrorf("mark self notified for session %s failed: %v", sess.ID, err)
	}
}

func (s *Scheduler) describeRecipient(ctx context.Context, sess *tracking.TrackingSession, phoneID *string) string {
	if phoneID == nil {
		return "observer " + sess.ObserverID
	}
	if s.phones == nil {
		return fmt.Sprintf("phone %s", *phoneID)
	}
	desc, err := s.phones.Describe(ctx, *phoneID)
	if err != nil {
		s.logErrorf("describe phone %s failed: %v", *phoneID, err)
		return fmt.Sprintf("phone %s", *phoneID)
	}
	return desc
}

func (s *Scheduler) logErrorf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Errorf(format, args...)
	}
}

func (s *Scheduler) logInfof(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}
