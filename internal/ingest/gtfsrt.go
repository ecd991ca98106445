package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// Poller 周期拉取 GTFS-RT VehiclePositions feed，把车辆位置灌进位置登记。
// feed 里的 vehicle label（缺省回退 vehicle id）对应救护车名称，
// 对不上的车辆跳过。feed 挂掉只影响这一路来源，上报接口照常工作。
type Poller struct {
	feedURL    string
	client     *http.Client
	ambulances *ambulance.Service
	log        logger.Logger

	now func() time.Time
}

func NewPoller(feedURL string, ambulances *ambulance.Service, log logger.Logger) *Poller {
	return &Poller{
		feedURL:    feedURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		ambulances: ambulances,
		log:        log,
		now:        time.Now,
	}
}

// PollOnce 拉取并处理一轮 feed，返回接受的上报条数。
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p == nil || p.ambulances == nil {
		return 0, fmt.Errorf("poller not initialized")
	}

	fm, err := p.fetchFeed(ctx)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, e := range fm.Entity {
		if e.Vehicle == nil || e.Vehicle.Position == nil {
			continue
		}
		vp := e.Vehicle

		label := vp.GetVehicle().GetLabel()
		if label == "" {
			label = vp.GetVehicle().GetId()
		}
		if label == "" {
			continue
		}

		amb, err := p.ambulances.GetByName(ctx, label)
		if err != nil {
			p.logDebugf("gtfsrt vehicle %q has no matching ambulance, skipped", label)
			continue
		}

		observedAt := p.now()
		if vp.Timestamp != nil && *vp.Timestamp > 0 {
			observedAt = time.Unix(int64(*vp.Timestamp), 0).UTC()
		}
		point := geo.Point{
			Lon: float64(vp.Position.GetLongitude()),
			Lat: float64(vp.Position.GetLatitude()),
		}

		ok, err := p.ambulances.ReportLocation(ctx, amb.ID, point, observedAt)
		if err != nil {
			p.logErrorf("report gtfsrt location for ambulance %s failed: %v", amb.ID, err)
			continue
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

func (p *Poller) fetchFeed(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", p.feedURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, p.feedURL)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &fm, nil
}

// Run 周期轮询循环，ctx 取消即退出。
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	if p == nil || p.feedURL == "" {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logInfof("gtfsrt poller started for %s, interval %s", p.feedURL, interval)
	for {
		select {
		case <-ctx.Done():
			p.logInfof("gtfsrt poller stopped")
			return
		case <-ticker.C:
			n, err := p.PollOnce(ctx)
			if err != nil {
				p.logErrorf("gtfsrt poll failed: %v", err)
				continue
			}
			if n > 0 {
				p.logDebugf("gtfsrt poll accepted %d vehicle positions", n)
			}
		}
	}
}

func (p *Poller) logDebugf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Debugf(format, args...)
	}
}

func (p *Poller) logInfof(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Infof(format, args...)
	}
}

func (p *Poller) logErrorf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Errorf(format, args...)
	}
}
