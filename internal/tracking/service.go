package tracking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/eta"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// AfterRecomputeFunc ETA 重算（或会话到达）之后的回调。
// 通知调度器在这里做到期判定；回调在持有车辆锁时执行，不得做慢操作。
type AfterRecomputeFunc func(ctx context.Context, sessionID string)

// OpenSessionInput 建会话参数。目的地由调用方快照传入（通常取观察者的医院坐标）。
type OpenSessionInput struct {
	ObserverID    string
	AmbulanceID   string
	Description   string
	Urgency       string
	Destination   *geo.Point
	SelfNotifySec *int64
}

// Service 追踪会话管理：建会话、位置事件驱动的 ETA 扇出重算、到达判定。
// 同一辆车的重算按车辆加锁串行执行，不同车辆并行互不干扰。
type Service struct {
	repo     *Repo
	est      eta.Estimator
	provider eta.Provider // 可为 nil（未配置外部路线服务）
	log      logger.Logger

	vehLocks keyedMutex
	extCache sync.Map // ambulanceID -> eta.ExternalEstimate

	afterRecompute AfterRecomputeFunc

	now func() time.Time
}

func NewService(repo *Repo, est eta.Estimator, provider eta.Provider, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		est:      est,
		provider: provider,
		log:      log,
		now:      time.Now,
	}
}

// SetAfterRecompute 注册重算后回调（启动期调用一次，非并发安全）。
func (s *Service) SetAfterRecompute(fn AfterRecomputeFunc) {
	s.afterRecompute = fn
}

// Open 建立新的追踪会话。
// 同一 (observer, ambulance) 已有未归档会话时返回 ErrDuplicateActiveSession。
func (s *Service) Open(ctx context.Context, in OpenSessionInput) (*TrackingSession, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	in.ObserverID = strings.TrimSpace(in.ObserverID)
	in.AmbulanceID = strings.TrimSpace(in.AmbulanceID)
	if in.ObserverID == "" || in.AmbulanceID == "" {
		return nil, fmt.Errorf("observer id and ambulance id required")
	}
	if in.SelfNotifySec != nil {
		if err := ValidateOffset(*in.SelfNotifySec); err != nil {
			return nil, err
		}
	}

	sess := &TrackingSession{
		ID:            uuid.NewString(),
		ObserverID:    in.ObserverID,
		AmbulanceID:   in.AmbulanceID,
		Description:   strings.TrimSpace(in.Description),
		Urgency:       strings.TrimSpace(in.Urgency),
		SelfNotifySec: in.SelfNotifySec,
	}
	if in.Destination != nil {
		lon, lat := in.Destination.Lon, in.Destination.Lat
		sess.DestLon = &lon
		sess.DestLat = &lat
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get 查询单个会话。
func (s *Service) Get(ctx context.Context, sessionID string) (*TrackingSession, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.FindSession(ctx, sessionID)
}

// ListByObserver 观察者名下的全部未归档会话。
func (s *Service) ListByObserver(ctx context.Context, observerID string) ([]TrackingSession, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.ListByObserver(ctx, observerID)
}

// Close 手动结束会话：强制置 arrived。已到达的会话再关闭是无害的幂等操作。
func (s *Service) Close(ctx context.Context, sessionID string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	marked, err := s.repo.MarkArrived(ctx, sessionID, s.now())
	if err != nil {
		return err
	}
	if marked && s.afterRecompute != nil {
		s.afterRecompute(ctx, sessionID)
	}
	return nil
}

// DismissSelfAlert 撤销会话本人提醒。
func (s *Service) DismissSelfAlert(ctx context.Context, sessionID string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("service not initialized")
	}
	return s.repo.DismissSelfAlert(ctx, sessionID)
}

// ValidateOffset 校验提醒提前量：非负且不超过上限。
func ValidateOffset(offsetSec int64) error {
	if offsetSec < 0 {
		return fmt.Errorf("notify offset must not be negative")
	}
	if time.Duration(offsetSec)*time.Second > MaxNotifyOffset {
		return fmt.Errorf("notify offset exceeds maximum of %s", MaxNotifyOffset)
	}
	return nil
}

// AddTrigger 为活跃会话登记一条 ETA 提醒。已到达的会话不再接受新提醒。
func (s *Service) AddTrigger(ctx context.Context, sessionID string, offsetSec *int64, phoneID *string) (*ETATrigger, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if offsetSec != nil {
		if err := ValidateOffset(*offsetSec); err != nil {
			return nil, err
		}
	}

	sess, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status() != StatusActive {
		return nil, fmt.Errorf("tracking session already arrived")
	}

	t := &ETATrigger{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		OffsetSec: offsetSec,
		PhoneID:   phoneID,
	}
	if err := s.repo.CreateTrigger(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Triggers 会话的全部触发器。
func (s *Service) Triggers(ctx context.Context, sessionID string) ([]ETATrigger, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.TriggersBySession(ctx, sessionID)
}

// OnLocationChanged 位置上报被接受后的扇出重算入口（注册到车辆服务的订阅表）。
// 同一辆车的事件按车辆锁串行化；每个活跃会话独立重算并做条件写入。
func (s *Service) OnLocationChanged(ctx context.Context, ambulanceID string, p geo.Point, observedAt time.Time) {
	if s == nil || s.repo == nil {
		return
	}

	mu := s.vehLocks.Lock(ambulanceID)
	defer mu.Unlock()

	sessions, err := s.repo.ActiveByAmbulance(ctx, ambulanceID)
	if err != nil {
		s.logErrorf("list active sessions for ambulance %s failed: %v", ambulanceID, err)
		return
	}

	for i := range sessions {
		s.recomputeSession(ctx, &sessions[i], p, observedAt)
	}

	// 异步刷新外部 ETA：结果进缓存，下一次上报的重算才会用到，
	// 网络慢或失败都不影响本次链路。
	if s.provider != nil {
		for i := range sessions {
			if dest, ok := sessions[i].Destination(); ok {
				go s.refreshExternal(ambulanceID, p, dest)
				break
			}
		}
	}
}

// recomputeSession 对单个会话重算 ETA 并条件写入；ETA 不晚于上报时间视为到达。
func (s *Service) recomputeSession(ctx context.Context, sess *TrackingSession, p geo.Point, observedAt time.Time) {
	dest, ok := sess.Destination()
	if !ok {
		// 没有目的地的会话 ETA 保持未知，不做写入
		return
	}

	var ext *eta.ExternalEstimate
	if v, found := s.extCache.Load(sess.AmbulanceID); found {
		e := v.(eta.ExternalEstimate)
		ext = &e
	}

	arrival, ok := s.est.Estimate(p, dest, observedAt, ext)
	if !ok {
		return
	}

	updated, err := s.repo.UpdateETA(ctx, sess.ID, &arrival, s.now(), observedAt)
	if err != nil {
		s.logErrorf("update eta for session %s failed: %v", sess.ID, err)
		return
	}
	if !updated {
		// 已到达或被更新的上报覆盖，静默丢弃
		return
	}

	if !arrival.After(observedAt) {
		marked, err := s.repo.MarkArrived(ctx, sess.ID, observedAt)
		if err != nil {
			s.logErrorf("mark session %s arrived failed: %v", sess.ID, err)
		} else if marked {
			s.logInfof("tracking session %s arrived at %s", sess.ID, observedAt.Format(time.RFC3339))
		}
	}

	if s.afterRecompute != nil {
		s.afterRecompute(ctx, sess.ID)
	}
}

// refreshExternal 调外部路线服务刷新 ETA 缓存。独立 goroutine 执行，
// 带独立超时，不继承请求上下文（请求结束不应取消刷新）。
func (s *Service) refreshExternal(ambulanceID string, origin, dest geo.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	arrival, computedAt, err := s.provider.Estimate(ctx, ambulanceID, origin, dest)
	if err != nil {
		s.logErrorf("external eta for ambulance %s failed: %v", ambulanceID, err)
		return
	}
	s.extCache.Store(ambulanceID, eta.ExternalEstimate{ETA: arrival, ComputedAt: computedAt})
}

func (s *Service) logErrorf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Errorf(format, args...)
	}
}

func (s *Service) logInfof(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}
