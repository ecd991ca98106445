package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

type captureChannel struct {
	mu        sync.Mutex
	delivered []Notification
	failNext  int // 前 N 次投递返回错误
}

func (c *captureChannel) Deliver(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return fmt.Errorf("delivery unavailable")
	}
	c.delivered = append(c.delivered, n)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func newTestRepo(t *testing.T) *tracking.Repo {
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
	if err := db.AutoMigrate(&tracking.TrackingSession{}, &tracking.ETATrigger{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return tracking.NewRepo(db)
}

func int64p(v int64) *int64 { return &v }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, repo *tracking.Repo, eta *time.Time, selfNotifySec *int64) *tracking.TrackingSession {
	t.Helper()
	sess := &tracking.TrackingSession{
		ID:            "sess-1",
		ObserverID:    "obs-1",
		AmbulanceID:   "amb-1",
		ETA:           eta,
		SelfNotifySec: selfNotifySec,
	}
	if err := repo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func seedTrigger(t *testing.T, repo *tracking.Repo, id string, offsetSec *int64) *tracking.ETATrigger {
	t.Helper()
	tr := &tracking.ETATrigger{ID: id, SessionID: "sess-1", OffsetSec: offsetSec}
	if err := repo.CreateTrigger(context.Background(), tr); err != nil {
		t.Fatalf("seed trigger: %v", err)
	}
	return tr
}

func TestTriggerFiresInsideOffsetWindow(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	// ETA 在 10 分钟后：提前 15 分钟的提醒已到期，提前 5 分钟的还没到
	eta := testNow.Add(10 * time.Minute)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-early", int64p(900))
	seedTrigger(t, repo, "trig-late", int64p(300))

	sched.CheckSession(context.Background(), "sess-1")

	if ch.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", ch.count())
	}
	if ch.delivered[0].TriggerID != "trig-early" {
		t.Fatalf("wrong trigger fired: %s", ch.delivered[0].TriggerID)
	}

	early, err := repo.FindTrigger(context.Background(), "trig-early")
	if err != nil || !early.Fulfilled {
		t.Fatalf("early trigger not fulfilled: %v %v", early, err)
	}
	late, err := repo.FindTrigger(context.Background(), "trig-late")
	if err != nil || late.Fulfilled {
		t.Fatalf("late trigger fulfilled too soon: %v %v", late, err)
	}
}

func TestNullOffsetTriggerFiresAtETA(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	// NULL 提前量等价于 0：ETA 还没到不触发
	eta := testNow.Add(time.Minute)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-arrival", nil)

	sched.CheckSession(context.Background(), "sess-1")
	if ch.count() != 0 {
		t.Fatalf("at-arrival trigger fired before eta")
	}

	// 车辆停止上报、墙钟越过 ETA：会话仍是活跃态，扫描也必须触发
	sched.now = func() time.Time { return eta.Add(2 * time.Minute) }
	sched.CheckSession(context.Background(), "sess-1")
	if ch.count() != 1 {
		t.Fatalf("expected 1 delivery once now >= eta, got %d", ch.count())
	}
}

func TestNullOffsetTriggerFiresOnArrival(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	// 到达使触发器立即到期，ETA 远在未来也一样
	eta := testNow.Add(time.Hour)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-arrival", nil)

	if _, err := repo.MarkArrived(context.Background(), "sess-1", testNow); err != nil {
		t.Fatalf("mark arrived: %v", err)
	}
	sched.CheckSession(context.Background(), "sess-1")
	if ch.count() != 1 {
		t.Fatalf("expected 1 delivery after arrival, got %d", ch.count())
	}
	if ch.delivered[0].ArrivedAt == nil {
		t.Fatal("arrival notification missing arrived_at")
	}
}

func TestTriggerFulfilledExactlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	eta := testNow.Add(time.Minute)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-1", int64p(300))

	// 反复判定同一会话：投递且计账必须恰好一次
	for i := 0; i < 5; i++ {
		sched.CheckSession(context.Background(), "sess-1")
	}
	if ch.count() != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", ch.count())
	}
}

func TestFailedDeliveryIsRetriedNextRound(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{failNext: 1}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	eta := testNow.Add(time.Minute)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-1", int64p(300))

	sched.CheckSession(context.Background(), "sess-1")
	tr, err := repo.FindTrigger(context.Background(), "trig-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tr.Fulfilled {
		t.Fatal("failed delivery must not mark the trigger fulfilled")
	}

	sched.CheckSession(context.Background(), "sess-1")
	tr, err = repo.FindTrigger(context.Background(), "trig-1")
	if err != nil || !tr.Fulfilled {
		t.Fatalf("retry did not fulfill: %v %v", tr, err)
	}
	if ch.count() != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", ch.count())
	}
}

func TestSelfAlertFiresOnceAndHonorsDismiss(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	eta := testNow.Add(10 * time.Minute)
	seedSession(t, repo, &eta, int64p(900))

	for i := 0; i < 3; i++ {
		sched.CheckSession(context.Background(), "sess-1")
	}
	if ch.count() != 1 {
		t.Fatalf("expected 1 self alert, got %d", ch.count())
	}
	if ch.delivered[0].TriggerID != "" {
		t.Fatalf("self alert must not carry a trigger id: %s", ch.delivered[0].TriggerID)
	}

	// 已撤销的提醒永不触发
	repo2 := newTestRepo(t)
	ch2 := &captureChannel{}
	sched2 := NewScheduler(repo2, ch2, nil, nil)
	sched2.now = func() time.Time { return testNow }
	seedSession(t, repo2, &eta, int64p(900))
	if err := repo2.DismissSelfAlert(context.Background(), "sess-1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	sched2.CheckSession(context.Background(), "sess-1")
	if ch2.count() != 0 {
		t.Fatal("dismissed self alert fired")
	}
}

func TestSelfAlertFailedDeliveryIsRetriedNextRound(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{failNext: 1}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	eta := testNow.Add(10 * time.Minute)
	seedSession(t, repo, &eta, int64p(900))

	// 首轮投递失败：不得计账，提醒留在待发状态
	sched.CheckSession(context.Background(), "sess-1")
	sess, err := repo.FindSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.SelfNotifiedAt != nil {
		t.Fatal("failed delivery must not mark the self alert sent")
	}

	sched.CheckSession(context.Background(), "sess-1")
	sess, err = repo.FindSession(context.Background(), "sess-1")
	if err != nil || sess.SelfNotifiedAt == nil {
		t.Fatalf("retry did not mark self alert sent: %v %v", sess, err)
	}
	if ch.count() != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", ch.count())
	}
}

func TestSweepCoversActiveAndArrivedSessions(t *testing.T) {
	repo := newTestRepo(t)
	ch := &captureChannel{}
	sched := NewScheduler(repo, ch, nil, nil)
	sched.now = func() time.Time { return testNow }

	eta := testNow.Add(time.Minute)
	seedSession(t, repo, &eta, nil)
	seedTrigger(t, repo, "trig-active", int64p(300))

	arrivedAt := testNow.Add(-time.Minute)
	arrived := &tracking.TrackingSession{
		ID: "sess-2", ObserverID: "obs-2", AmbulanceID: "amb-2", ArrivedAt: &arrivedAt,
	}
	if err := repo.CreateSession(context.Background(), arrived); err != nil {
		t.Fatalf("seed arrived session: %v", err)
	}
	if err := repo.CreateTrigger(context.Background(), &tracking.ETATrigger{
		ID: "trig-arrived", SessionID: "sess-2",
	}); err != nil {
		t.Fatalf("seed arrived trigger: %v", err)
	}

	sched.Sweep(context.Background())

	if ch.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", ch.count())
	}
}
