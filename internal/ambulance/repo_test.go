package ambulance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
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
	if err := db.AutoMigrate(&Ambulance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestUpdateLocationMonotonic(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &Ambulance{ID: "amb-1", Name: "Unit 1", Lon: 0, Lat: 0, LastUpdate: base}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	// 正常推进
	accepted, err := repo.UpdateLocation(ctx, "amb-1", geo.Point{Lon: 1, Lat: 1}, base.Add(time.Minute))
	if err != nil || !accepted {
		t.Fatalf("expected accept, got accepted=%v err=%v", accepted, err)
	}

	// 过期上报：静默丢弃，不是错误
	accepted, err = repo.UpdateLocation(ctx, "amb-1", geo.Point{Lon: 9, Lat: 9}, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale report should not error: %v", err)
	}
	if accepted {
		t.Fatalf("stale report must be dropped")
	}

	got, err := repo.FindByID(ctx, "amb-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Lon != 1 || got.Lat != 1 {
		t.Fatalf("position regressed: %+v", got)
	}
	if !got.LastUpdate.Equal(base.Add(time.Minute)) {
		t.Fatalf("last_update regressed: %v", got.LastUpdate)
	}

	// 等时间戳的重复上报被接受（幂等覆盖，不回退）
	accepted, err = repo.UpdateLocation(ctx, "amb-1", geo.Point{Lon: 1, Lat: 1}, base.Add(time.Minute))
	if err != nil || !accepted {
		t.Fatalf("equal-timestamp report should be accepted: accepted=%v err=%v", accepted, err)
	}

	// 乱序序列下 last_update 单调不减
	stamps := []time.Duration{3 * time.Minute, 2 * time.Minute, 5 * time.Minute, 4 * time.Minute}
	var prev time.Time
	for _, d := range stamps {
		_, err := repo.UpdateLocation(ctx, "amb-1", geo.Point{Lon: d.Minutes(), Lat: 0}, base.Add(d))
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := repo.FindByID(ctx, "amb-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.LastUpdate.Before(prev) {
			t.Fatalf("last_update decreased: %v -> %v", prev, got.LastUpdate)
		}
		prev = got.LastUpdate
	}
}

func TestUpdateLocationUnknownAmbulance(t *testing.T) {
	repo := NewRepo(newTestDB(t))

	_, err := repo.UpdateLocation(context.Background(), "missing", geo.Point{}, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRecentlyUpdated(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	old := &Ambulance{ID: "amb-old", Name: "Old", LastUpdate: now.Add(-65 * time.Second)}
	fresh := &Ambulance{ID: "amb-new", Name: "New", LastUpdate: now.Add(-5 * time.Second)}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListRecentlyUpdated(ctx, 2*time.Minute, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both, got %d", len(got))
	}

	got, err = repo.ListRecentlyUpdated(ctx, time.Minute, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "amb-new" {
		t.Fatalf("expected only fresh ambulance, got %+v", got)
	}

	got, err = repo.ListRecentlyUpdated(ctx, 0, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty for zero window, got %d", len(got))
	}
}

func TestDisplayNameFallback(t *testing.T) {
	a := Ambulance{ID: "amb-1"}
	if a.DisplayName() != "amb-1" {
		t.Fatalf("expected id fallback, got %s", a.DisplayName())
	}
	a.Name = "Unit 7"
	if a.DisplayName() != "Unit 7" {
		t.Fatalf("expected name, got %s", a.DisplayName())
	}
}
