package eta

import (
	"context"
	"errors"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// ErrNoRoute 路线服务没有返回任何可用路线。
var ErrNoRoute = errors.New("no routes returned")

// Provider 外部路线/距离服务。结果只作为 ExternalEstimate 推给估算器，
// 失败或超时一律回退到内部模型，绝不让位置上报链路失败。
type Provider interface {
	Estimate(ctx context.Context, ambulanceID string, origin, dest geo.Point) (eta time.Time, computedAt time.Time, err error)
}

// ETARecorder 每次外部计算落一条历史快照（归档存储实现该接口）。
type ETARecorder interface {
	RecordETA(ctx context.Context, ambulanceID string, from, to geo.Point, eta, calculatedAt time.Time) error
}

// RecordingProvider Provider 装饰器：每算出一次 ETA 就写一条归档记录。
type RecordingProvider struct {
	next Provider
	rec  ETARecorder
}

func NewRecordingProvider(next Provider, rec ETARecorder) *RecordingProvider {
	return &RecordingProvider{next: next, rec: rec}
}

func (p *RecordingProvider) Estimate(ctx context.Context, ambulanceID string, origin, dest geo.Point) (time.Time, time.Time, error) {
	eta, computedAt, err := p.next.Estimate(ctx, ambulanceID, origin, dest)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if p.rec != nil {
		if recErr := p.rec.RecordETA(ctx, ambulanceID, origin, dest, eta, computedAt); recErr != nil {
			return time.Time{}, time.Time{}, recErr
		}
	}
	return eta, computedAt, nil
}
