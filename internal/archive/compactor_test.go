package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	err = db.AutoMigrate(
		&ambulance.Ambulance{},
		&tracking.TrackingSession{}, &tracking.ETATrigger{},
		&ArchivedSession{}, &ArchivedTrigger{},
		&LocationHistoryRecord{}, &ETAHistoryRecord{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func seedAmbulance(t *testing.T, db *gorm.DB, id, name string) {
	t.Helper()
	err := db.Create(&ambulance.Ambulance{
		ID: id, Name: name, Lon: 0.05, Lat: 0.05, LastUpdate: testNow.Add(-26 * time.Hour),
	}).Error
	if err != nil {
		t.Fatalf("seed ambulance: %v", err)
	}
}

func seedArrived(t *testing.T, repo *tracking.Repo, id string, arrivedAt time.Time) {
	t.Helper()
	at := arrivedAt
	eta := arrivedAt
	destLon, destLat := 0.05, 0.05
	sess := &tracking.TrackingSession{
		ID:              id,
		ObserverID:      "obs-" + id,
		AmbulanceID:     "amb-1",
		DestLon:         &destLon,
		DestLat:         &destLat,
		ETA:             &eta,
		ETACalculatedAt: &at,
		ArrivedAt:       &at,
	}
	if err := repo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	err := repo.CreateTrigger(context.Background(), &tracking.ETATrigger{
		ID: "trig-" + id, SessionID: id, OffsetSec: int64p(300), Fulfilled: true,
	})
	if err != nil {
		t.Fatalf("seed trigger: %v", err)
	}
}

func TestCompactMovesExpiredSessions(t *testing.T) {
	db := newTestDB(t)
	repo := tracking.NewRepo(db)
	c := NewCompactor(db, repo, 24*time.Hour, nil)
	c.now = func() time.Time { return testNow }
	ctx := context.Background()

	seedAmbulance(t, db, "amb-1", "Unit 1")
	seedArrived(t, repo, "old", testNow.Add(-25*time.Hour))
	seedArrived(t, repo, "fresh", testNow.Add(-time.Hour))

	// 活跃会话永不归档
	active := &tracking.TrackingSession{ID: "live", ObserverID: "obs-live", AmbulanceID: "amb-2"}
	if err := repo.CreateSession(ctx, active); err != nil {
		t.Fatalf("seed active: %v", err)
	}

	moved, err := c.CompactOnce(ctx)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}

	// 旧会话：活跃表删除，归档表出现，触发器跟着走
	if _, err := repo.FindSession(ctx, "old"); !errors.Is(err, tracking.ErrSessionNotFound) {
		t.Fatalf("old session still in live table: %v", err)
	}
	var archSess ArchivedSession
	if err := db.Where("id = ?", "old").First(&archSess).Error; err != nil {
		t.Fatalf("archived session missing: %v", err)
	}
	if !archSess.ArrivedAt.Equal(testNow.Add(-25 * time.Hour)) {
		t.Fatalf("arrived_at not preserved: %v", archSess.ArrivedAt)
	}
	var archTrig ArchivedTrigger
	if err := db.Where("session_id = ?", "old").First(&archTrig).Error; err != nil {
		t.Fatalf("archived trigger missing: %v", err)
	}
	if !archTrig.Fulfilled {
		t.Fatal("fulfilled flag not preserved")
	}
	var liveTrigCount int64
	db.Model(&tracking.ETATrigger{}).Where("session_id = ?", "old").Count(&liveTrigCount)
	if liveTrigCount != 0 {
		t.Fatalf("live triggers not deleted: %d", liveTrigCount)
	}

	// 终态快照：到达位置一条 + 最终 ETA 一条
	var locCount, etaCount int64
	db.Model(&LocationHistoryRecord{}).Where("ambulance_id = ?", "amb-1").Count(&locCount)
	if locCount != 1 {
		t.Fatalf("expected 1 location history record, got %d", locCount)
	}
	var loc LocationHistoryRecord
	if err := db.Where("ambulance_id = ?", "amb-1").First(&loc).Error; err != nil {
		t.Fatalf("location history: %v", err)
	}
	if loc.Name != "Unit 1" || loc.Lon != 0.05 {
		t.Fatalf("location snapshot wrong: %+v", loc)
	}
	db.Model(&ETAHistoryRecord{}).Where("ambulance_id = ?", "amb-1").Count(&etaCount)
	if etaCount != 1 {
		t.Fatalf("expected 1 eta history record, got %d", etaCount)
	}

	// 保留期内的和活跃的留在原地
	if _, err := repo.FindSession(ctx, "fresh"); err != nil {
		t.Fatalf("fresh session should stay: %v", err)
	}
	if _, err := repo.FindSession(ctx, "live"); err != nil {
		t.Fatalf("active session should stay: %v", err)
	}

	// 归档释放配对：同一 (observer, ambulance) 可以重新建会话
	if err := repo.CreateSession(ctx, &tracking.TrackingSession{
		ID: "old-2", ObserverID: "obs-old", AmbulanceID: "amb-1",
	}); err != nil {
		t.Fatalf("pair not released after archive: %v", err)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := tracking.NewRepo(db)
	c := NewCompactor(db, repo, 24*time.Hour, nil)
	c.now = func() time.Time { return testNow }
	ctx := context.Background()

	seedAmbulance(t, db, "amb-1", "Unit 1")
	seedArrived(t, repo, "old", testNow.Add(-48*time.Hour))

	if _, err := c.CompactOnce(ctx); err != nil {
		t.Fatalf("first compact: %v", err)
	}
	moved, err := c.CompactOnce(ctx)
	if err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if moved != 0 {
		t.Fatalf("second round moved %d, want 0", moved)
	}

	// 总量守恒：归档表恰好一行，快照各恰好一条
	var count, locCount int64
	db.Model(&ArchivedSession{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 archived session, got %d", count)
	}
	db.Model(&LocationHistoryRecord{}).Count(&locCount)
	if locCount != 1 {
		t.Fatalf("expected 1 location history record, got %d", locCount)
	}
}

func TestRecordETAHistory(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	from := geo.Point{Lon: 0, Lat: 0}
	to := geo.Point{Lon: 0, Lat: 0.1}
	for i := 0; i < 3; i++ {
		at := testNow.Add(time.Duration(i) * time.Minute)
		if err := repo.RecordETA(ctx, "amb-1", from, to, at.Add(10*time.Minute), at); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	records, err := repo.ETAHistory(ctx, "amb-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].CalculatedAt.After(records[1].CalculatedAt) {
		t.Fatalf("history not ordered desc: %v %v", records[0].CalculatedAt, records[1].CalculatedAt)
	}
	if records[0].ToLat != 0.1 {
		t.Fatalf("destination not preserved: %+v", records[0])
	}
}
