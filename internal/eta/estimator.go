package eta

import (
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// ExternalEstimate 外部路线服务推送进来的 ETA（不在这里发起网络请求）。
type ExternalEstimate struct {
	ETA        time.Time
	ComputedAt time.Time
}

// Estimator 把 (当前位置, 目的地, 可选外部 ETA) 折算成一个绝对到达时刻。
// 纯函数：相同输入必然得到相同输出，内部不做任何 I/O、不读墙钟。
type Estimator struct {
	Distance       geo.DistanceFunc
	SpeedKmh       float64       // 兜底估算的平均车速
	MaxExternalAge time.Duration // 外部 ETA 超过该时效则弃用
}

// NewEstimator 创建估算器，distance 为空时使用平面近似。
func NewEstimator(distance geo.DistanceFunc, speedKmh float64, maxExternalAge time.Duration) Estimator {
	if distance == nil {
		distance = geo.Equirectangular
	}
	return Estimator{
		Distance:       distance,
		SpeedKmh:       speedKmh,
		MaxExternalAge: maxExternalAge,
	}
}

// Estimate 计算 ETA。外部估算新鲜时优先采用，否则退回距离/车速模型。
// 没有可用输入（车速未配置且无外部估算）时返回 ok=false，调用方展示“ETA 未知”。
func (e Estimator) Estimate(current, dest geo.Point, observedAt time.Time, ext *ExternalEstimate) (time.Time, bool) {
	if ext != nil && !ext.ETA.IsZero() {
		age := observedAt.Sub(ext.ComputedAt)
		if age < 0 {
			age = -age
		}
		if e.MaxExternalAge <= 0 || age <= e.MaxExternalAge {
			return ext.ETA, true
		}
	}

	if e.SpeedKmh <= 0 {
		return time.Time{}, false
	}

	meters := e.Distance(current, dest)
	return observedAt.Add(geo.TravelTime(meters, e.SpeedKmh)), true
}
