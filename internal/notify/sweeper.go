package notify

import (
	"context"
	"time"
)

// Sweep 对全部需要判定的会话跑一轮到期检查：
// 活跃会话（ETA 推进可能使触发器到期）加上已到达未归档的会话
// （进程重启后补发到达类提醒的兜底）。
func (s *Scheduler) Sweep(ctx context.Context) {
	if s == nil || s.sessions == nil {
		return
	}

	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		s.logErrorf("list active sessions for sweep failed: %v", err)
		return
	}
	arrived, err := s.sessions.ListArrivedBefore(ctx, s.now())
	if err != nil {
		s.logErrorf("list arrived sessions for sweep failed: %v", err)
		return
	}

	for i := range active {
		s.CheckSession(ctx, active[i].ID)
	}
	for i := range arrived {
		s.CheckSession(ctx, arrived[i].ID)
	}
}

// Run 周期扫描循环，ctx 取消即退出。ETA 随时间自然逼近，
// 即使没有新的位置上报，到期的提醒也要靠扫描发出。
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logInfof("notification sweeper started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logInfof("notification sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
