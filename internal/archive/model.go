package archive

import "time"

// LocationHistoryRecord 会话归档时车辆位置的快照。
type LocationHistoryRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AmbulanceID string `gorm:"index;size:36;not null"`
	Name        string `gorm:"size:64"`

	Lon float64
	Lat float64

	RecordedAt time.Time `gorm:"index;not null"`
}

func (LocationHistoryRecord) TableName() string {
	return "archive_locations"
}

// ETAHistoryRecord ETA 计算快照：外部路线服务每次计算落一条，
// 会话归档时再落一条最终值（审计与事后分析用）。
type ETAHistoryRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AmbulanceID string `gorm:"index;size:36;not null"`

	FromLon float64
	FromLat float64
	ToLon   float64
	ToLat   float64

	ETA          time.Time `gorm:"not null"`
	CalculatedAt time.Time `gorm:"index;not null"`
}

func (ETAHistoryRecord) TableName() string {
	return "archive_etas"
}

// ArchivedSession 归档后的追踪会话。列与活跃表对应，追加归档时间。
type ArchivedSession struct {
	ID string `gorm:"primaryKey;size:36"`

	ObserverID  string `gorm:"index;size:36;not null"`
	AmbulanceID string `gorm:"index;size:36;not null"`
	Description string `gorm:"size:255"`
	Urgency     string `gorm:"size:32"`

	DestLon *float64
	DestLat *float64

	ETA             *time.Time
	ETACalculatedAt *time.Time
	LastObservedAt  *time.Time

	SelfNotifySec  *int64
	SelfNotifiedAt *time.Time

	CreatedAt  time.Time
	ArrivedAt  time.Time `gorm:"index;not null"`
	ArchivedAt time.Time `gorm:"not null"`
}

func (ArchivedSession) TableName() string {
	return "archive_sessions"
}

// ArchivedTrigger 归档会话名下的触发器记录。
type ArchivedTrigger struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:36;not null"`

	OffsetSec *int64
	PhoneID   *string `gorm:"size:36"`

	Fulfilled   bool
	FulfilledAt *time.Time

	CreatedAt time.Time
}

func (ArchivedTrigger) TableName() string {
	return "archive_triggers"
}
