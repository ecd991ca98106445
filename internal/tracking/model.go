package tracking

import (
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// MaxNotifyOffset 通知提前量上限（超过 6 小时的提醒没有业务意义）。
const MaxNotifyOffset = 6 * time.Hour

// Status 追踪会话状态枚举（持久化为字符串）。
type Status string

const (
	StatusActive   Status = "active"   // 活跃，持续重算 ETA
	StatusArrived  Status = "arrived"  // 已到达（终态，等待归档）
	StatusArchived Status = "archived" // 已归档（行从活跃表删除）
)

// TrackingSession 追踪会话 GORM 模型：一个观察者盯一辆救护车。
// (observer_id, ambulance_id) 唯一索引保证同一对至多一个未归档会话：
// 到达只置 arrived_at 不删行，新会话必须等旧会话归档删除后才能建。
type TrackingSession struct {
	ID string `gorm:"primaryKey;size:36"`

	ObserverID  string `gorm:"uniqueIndex:idx_observer_ambulance;size:36;not null"` // 观察者账号
	AmbulanceID string `gorm:"uniqueIndex:idx_observer_ambulance;index;size:36;not null"`
	Description string `gorm:"size:255"` // 用户给会话起的说明
	Urgency     string `gorm:"size:32"`

	// 目的地快照（建会话时从观察者的医院设置取；未设置时 ETA 保持未知）
	DestLon *float64
	DestLat *float64

	// ETA 状态（活跃期间反复重算）
	ETA             *time.Time
	ETACalculatedAt *time.Time
	LastObservedAt  *time.Time // 最近一次参与重算的上报时间，做 last-writer-by-observedAt 守卫

	// 会话本人提醒（相对 ETA 的提前量；可撤销）
	SelfNotifySec  *int64
	SelfNotifiedAt *time.Time

	ArrivedAt *time.Time // 置位即终态，只置一次

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Status 由字段推导当前状态（行被删除即视为 archived，不在活跃表表达）。
func (s TrackingSession) Status() Status {
	if s.ArrivedAt != nil {
		return StatusArrived
	}
	return StatusActive
}

// Destination 目的地（未设置返回 ok=false，ETA 展示为未知）。
func (s TrackingSession) Destination() (geo.Point, bool) {
	if s.DestLon == nil || s.DestLat == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lon: *s.DestLon, Lat: *s.DestLat}, true
}

// SelfNotifyOffset 本人提醒提前量（未设置返回 ok=false）。
func (s TrackingSession) SelfNotifyOffset() (time.Duration, bool) {
	if s.SelfNotifySec == nil {
		return 0, false
	}
	return time.Duration(*s.SelfNotifySec) * time.Second, true
}

// ETATrigger 一条“ETA 提前 N 分钟提醒”登记，属于且仅属于一个会话。
// fulfilled 单向翻转（false -> true），由通知调度器原子置位。
type ETATrigger struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:36;not null"`

	OffsetSec *int64  // 相对 ETA 的提前量（秒）；NULL 表示“到达时刻提醒”
	PhoneID   *string `gorm:"size:36"` // 通知目标手机；NULL 表示直接通知会话本人

	Fulfilled   bool `gorm:"not null;default:false;index"`
	FulfilledAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Offset 提醒提前量，NULL 等价于 0（到达时刻）。
func (t ETATrigger) Offset() time.Duration {
	if t.OffsetSec == nil {
		return 0
	}
	return time.Duration(*t.OffsetSec) * time.Second
}
