package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Consul   ConsulConfig   `json:"consul"`
	Jaeger   JaegerConfig   `json:"jaeger"`
	Log      LogConfig      `json:"log"`
	Auth     AuthConfig     `json:"auth"`
	Tracker  TrackerConfig  `json:"tracker"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name     string `json:"name"`      // 服务名称
	Host     string `json:"host"`      // 服务地址
	HTTPPort int    `json:"http_port"` // HTTP端口
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `json:"driver"`   // mysql / sqlite
	Host     string `json:"host"`     // 数据库地址
	Port     int    `json:"port"`     // 数据库端口
	User     string `json:"user"`     // 用户名
	Password string `json:"password"` // 密码
	Database string `json:"database"` // 数据库名
	Path     string `json:"path"`     // sqlite 文件路径
	MaxIdle  int    `json:"max_idle"` // 最大空闲连接
	MaxOpen  int    `json:"max_open"` // 最大打开连接
}

// ConsulConfig Consul配置
type ConsulConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JaegerConfig Jaeger配置
type JaegerConfig struct {
	Endpoint string  `json:"endpoint"`
	Sampler  float64 `json:"sampler"` // 采样率 0.0-1.0
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, file
	Path   string `json:"path"`   // 日志文件路径
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	Enabled     bool                `json:"enabled"`
	JWTSecret   string              `json:"jwt_secret"`
	Issuer      string              `json:"issuer"`
	Audience    string              `json:"audience"`
	TokenTTLSec int                 `json:"token_ttl_sec"` // access token 有效期（秒）
	PublicPaths []string            `json:"public_paths"`  // 免鉴权路径（精确匹配）
	RBAC        map[string][]string `json:"rbac"`          // 路径前缀 -> 允许角色
}

// TokenTTL access token 有效期
func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLSec <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.TokenTTLSec) * time.Second
}

// TrackerConfig 追踪引擎配置
type TrackerConfig struct {
	AverageSpeedKmh      float64 `json:"average_speed_kmh"`        // 兜底估算使用的平均车速
	DistanceModel        string  `json:"distance_model"`           // planar / spherical
	ExternalETAMaxAgeSec int     `json:"external_eta_max_age_sec"` // 外部 ETA 的可信时效
	SweepIntervalSec     int     `json:"sweep_interval_sec"`       // 通知轮询周期
	ArchiveIntervalSec   int     `json:"archive_interval_sec"`     // 归档轮询周期
	RetentionSec         int     `json:"retention_sec"`            // 已到达会话保留时长
	MapboxToken          string  `json:"mapbox_token"`             // 外部路线 ETA（可选）
	GTFSRTFeedURL        string  `json:"gtfsrt_feed_url"`          // GTFS-RT 车辆位置源（可选）
	GTFSRTPollSec        int     `json:"gtfsrt_poll_sec"`          // GTFS-RT 拉取周期
	IngestRatePerSec     int     `json:"ingest_rate_per_sec"`      // 位置上报限流（令牌桶）
}

func (t TrackerConfig) ExternalETAMaxAge() time.Duration {
	if t.ExternalETAMaxAgeSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(t.ExternalETAMaxAgeSec) * time.Second
}

func (t TrackerConfig) SweepInterval() time.Duration {
	if t.SweepIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.SweepIntervalSec) * time.Second
}

func (t TrackerConfig) ArchiveInterval() time.Duration {
	if t.ArchiveIntervalSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(t.ArchiveIntervalSec) * time.Second
}

func (t TrackerConfig) Retention() time.Duration {
	if t.RetentionSec <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(t.RetentionSec) * time.Second
}

func (t TrackerConfig) GTFSRTPollInterval() time.Duration {
	if t.GTFSRTPollSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.GTFSRTPollSec) * time.Second
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig 加载配置：JSON 文件 + 环境变量覆盖（支持 .env）。
func LoadConfig(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig = &Config{}
		// 如果配置文件不存在，使用默认配置
		if _, err = os.Stat(configPath); os.IsNotExist(err) {
			logrus.Warnf("Config file not found: %s, using default config", configPath)
			globalConfig = defaultConfig()
			err = nil
			applyEnvOverrides(globalConfig)
			return
		}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file: %w", readErr)
			return
		}

		if unmarshalErr := json.Unmarshal(data, globalConfig); unmarshalErr != nil {
			err = fmt.Errorf("failed to parse config file: %w", unmarshalErr)
			return
		}
		applyEnvOverrides(globalConfig)
	})

	if err != nil {
		return nil, err
	}

	return globalConfig, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	if globalConfig == nil {
		return defaultConfig()
	}
	return globalConfig
}

// applyEnvOverrides 环境变量覆盖敏感项（密码/秘钥不放进配置文件）。
func applyEnvOverrides(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("TRACKER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TRACKER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("TRACKER_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TRACKER_MAPBOX_TOKEN"); v != "" {
		cfg.Tracker.MapboxToken = v
	}
	if v := os.Getenv("TRACKER_HTTP_PORT"); v != "" {
		if p, convErr := strconv.Atoi(v); convErr == nil && p > 0 {
			cfg.Server.HTTPPort = p
		}
	}
}

// defaultConfig 默认配置（开发环境）
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "tracker-service",
			Host:     "0.0.0.0",
			HTTPPort: 8080,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     "data/tracker.db",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "root",
			Database: "ambulancetracker",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Consul: ConsulConfig{
			Host: "localhost",
			Port: 8500,
		},
		Jaeger: JaegerConfig{
			Endpoint: "localhost:6831",
			Sampler:  1.0,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
			Output: "stdout",
			Path:   "logs/app.log",
		},
		Auth: AuthConfig{
			Enabled:     true,
			Issuer:      "ambulancetracker",
			Audience:    "ambulancetracker",
			TokenTTLSec: 24 * 3600,
			PublicPaths: []string{"/healthz", "/api/v1/login"},
		},
		Tracker: TrackerConfig{
			AverageSpeedKmh:      60,
			DistanceModel:        "planar",
			ExternalETAMaxAgeSec: 120,
			SweepIntervalSec:     30,
			ArchiveIntervalSec:   600,
			RetentionSec:         24 * 3600,
			IngestRatePerSec:     200,
		},
	}
}
