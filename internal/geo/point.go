package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// Point 平面近似下的经纬度坐标（lon = x, lat = y，WGS84 度）。
// 坐标合法性（|lat|<=90, |lon|<=180）在接入层校验，这里假定输入已合法。
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// DistanceFunc 两点间距离（米）。
type DistanceFunc func(a, b Point) float64

// Equirectangular 等距圆柱近似，城市尺度下误差可忽略；可通过配置切换为 Haversine。
func Equirectangular(a, b Point) float64 {
	latRad := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dx := (b.Lon - a.Lon) * math.Pi / 180 * math.Cos(latRad)
	dy := (b.Lat - a.Lat) * math.Pi / 180
	return math.Sqrt(dx*dx+dy*dy) * earthRadiusMeters
}

// Haversine 球面距离。
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// DistanceByName 按配置名选择距离模型，未知名称回退到平面近似。
func DistanceByName(name string) DistanceFunc {
	switch name {
	case "spherical":
		return Haversine
	default:
		return Equirectangular
	}
}

// TravelTime 按平均车速估算行程耗时。
func TravelTime(distanceMeters, speedKmh float64) time.Duration {
	if speedKmh <= 0 || distanceMeters <= 0 {
		return 0
	}
	seconds := distanceMeters / (speedKmh * 1000 / 3600)
	return time.Duration(seconds * float64(time.Second))
}
