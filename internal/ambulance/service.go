package ambulance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// LocationChangedFunc 位置上报被接受后的回调（追踪侧在这里做 ETA 扇出重算）。
// 回调不得阻塞上报链路，慢操作由订阅方自行异步化。
type LocationChangedFunc func(ctx context.Context, ambulanceID string, p geo.Point, observedAt time.Time)

// Service 封装车辆位置登记的核心用例（不依赖 HTTP），便于复用和测试。
type Service struct {
	repo      *Repo
	listeners []LocationChangedFunc
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// OnLocationChanged 订阅位置变更事件（启动期注册，非并发安全）。
func (s *Service) OnLocationChanged(fn LocationChangedFunc) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

// Register 登记一辆新的救护车。
func (s *Service) Register(ctx context.Context, name string, p geo.Point, observedAt time.Time) (*Ambulance, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	a := &Ambulance{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Lon:        p.Lon,
		Lat:        p.Lat,
		LastUpdate: observedAt,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ReportLocation 接收一次位置上报。过期/重复上报静默丢弃（accepted=false），
// 被接受的上报触发订阅方的 ETA 重算。
func (s *Service) ReportLocation(ctx context.Context, id string, p geo.Point, observedAt time.Time) (bool, error) {
	if s == nil || s.repo == nil {
		return false, fmt.Errorf("service not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("ambulance id required")
	}

	accepted, err := s.repo.UpdateLocation(ctx, id, p, observedAt)
	if err != nil || !accepted {
		return accepted, err
	}

	for _, fn := range s.listeners {
		fn(ctx, id, p, observedAt)
	}
	return true, nil
}

// Get 返回救护车当前信息；从未上报过的车辆由调用方展示“位置未知”。
func (s *Service) Get(ctx context.Context, id string) (*Ambulance, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.FindByID(ctx, id)
}

// GetByName 按名称查救护车（GTFS-RT feed 用 label 对车）。
func (s *Service) GetByName(ctx context.Context, name string) (*Ambulance, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.FindByName(ctx, name)
}

// RecentlyUpdated 最近 window 内有更新的救护车列表。
func (s *Service) RecentlyUpdated(ctx context.Context, window time.Duration) ([]Ambulance, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.ListRecentlyUpdated(ctx, window, time.Now())
}
