package ambulance

import (
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// Ambulance 是 ambulances 表的 GORM 模型：每辆车只存最后一次被接受的位置。
type Ambulance struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Name       string    `gorm:"size:64"`
	Lon        float64   `gorm:"not null"`
	Lat        float64   `gorm:"not null"`
	LastUpdate time.Time `gorm:"index;not null"` // 最后一次被接受的上报时间
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (a Ambulance) Location() geo.Point {
	return geo.Point{Lon: a.Lon, Lat: a.Lat}
}

// DisplayName 名称为空时退回 id 展示。
func (a Ambulance) DisplayName() string {
	if a.Name == "" {
		return a.ID
	}
	return a.Name
}
