package tracking

import (
	"fmt"
	"time"
)

// AllowTransition 定义会话状态机的允许流转关系。
var AllowTransition = map[Status][]Status{
	StatusActive:  {StatusArrived},
	StatusArrived: {StatusArchived},
	// 终态：archived 之后不存在任何流转（行已删除）
	StatusArchived: {},
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyTransition 对会话应用状态变更，并维护 arrived_at。
// 仅在 CanTransition 返回 true 时生效；arrived_at 只置一次。
func ApplyTransition(s *TrackingSession, to Status, now time.Time) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	from := s.Status()
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid session status transition: %s -> %s", from, to)
	}

	if to == StatusArrived && s.ArrivedAt == nil {
		t := now
		s.ArrivedAt = &t
	}
	return nil
}
