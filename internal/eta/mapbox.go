package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/middleware"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
)

// MapboxProvider 调 Mapbox driving-traffic 方向接口取路线耗时。
// 外部依赖按“不可信/尽力而为”处理：熔断器打开或请求失败时由调用方回退内部模型。
type MapboxProvider struct {
	token   string
	client  *http.Client
	breaker *middleware.CircuitBreaker
}

func NewMapboxProvider(token string) *MapboxProvider {
	return &MapboxProvider{
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: middleware.NewCircuitBreaker("mapbox", 5, 30*time.Second),
	}
}

func buildRequestURL(from, to geo.Point, token string) string {
	return fmt.Sprintf(
		"https://api.mapbox.com/directions/v5/mapbox/driving-traffic/%f,%f;%f,%f?include=hov2,hov3,hot&overview=false&access_token=%s",
		from.Lon, from.Lat, to.Lon, to.Lat, token)
}

type mapboxRoute struct {
	Duration float64 `json:"duration"` // 秒
}

type mapboxResponse struct {
	Routes []mapboxRoute `json:"routes"`
}

func (p *MapboxProvider) Estimate(ctx context.Context, ambulanceID string, origin, dest geo.Point) (time.Time, time.Time, error) {
	var resp mapboxResponse

	err := p.breaker.Call(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildRequestURL(origin, dest, p.token), nil)
		if err != nil {
			return err
		}
		httpResp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return fmt.Errorf("mapbox returned status %d", httpResp.StatusCode)
		}
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if len(resp.Routes) == 0 {
		return time.Time{}, time.Time{}, ErrNoRoute
	}

	now := time.Now()
	eta := now.Add(time.Duration(resp.Routes[0].Duration * float64(time.Second)))
	return eta, now, nil
}
