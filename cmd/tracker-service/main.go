package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/api"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/archive"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/config"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/db"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/middleware"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/server"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/tracing"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/eta"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ingest"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/notify"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

func main() {
	configPath := flag.String("config", "configs/tracker-service.json", "配置文件路径")
	consulAddr := flag.String("consul-addr", "", "从 Consul KV 加载配置（host:port，-config 作为 KV key）")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *consulAddr != "" {
		host, portStr, splitErr := net.SplitHostPort(*consulAddr)
		if splitErr != nil {
			fmt.Fprintf(os.Stderr, "invalid consul addr %q: %v\n", *consulAddr, splitErr)
			os.Exit(1)
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "invalid consul port %q\n", portStr)
			os.Exit(1)
		}
		cfg, err = config.LoadConfigFromConsulKV(host, port, *configPath)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}

	// 链路追踪（失败只降级，不阻塞启动）
	_, closer, err := tracing.InitTracer(cfg.Server.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.Sampler)
	if err != nil {
		log.Warnf("init tracer failed: %v", err)
	} else {
		defer closer.Close()
	}

	gdb, err := db.OpenWithRetry(cfg.Database, 5, 3*time.Second)
	if err != nil {
		log.Fatalf("connect database failed: %v", err)
	}
	err = gdb.AutoMigrate(
		&account.Account{}, &account.Phone{},
		&ambulance.Ambulance{},
		&tracking.TrackingSession{}, &tracking.ETATrigger{},
		&archive.ArchivedSession{}, &archive.ArchivedTrigger{},
		&archive.LocationHistoryRecord{}, &archive.ETAHistoryRecord{},
	)
	if err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}

	// 仓储与领域服务
	accountRepo := account.NewRepo(gdb)
	ambulanceRepo := ambulance.NewRepo(gdb)
	trackingRepo := tracking.NewRepo(gdb)
	archiveRepo := archive.NewRepo(gdb)

	accounts := account.NewService(accountRepo, cfg.Auth)
	ambulances := ambulance.NewService(ambulanceRepo)

	// ETA 估算：内部距离模型兜底，Mapbox 可选，外部结果落归档快照
	estimator := eta.NewEstimator(
		geo.DistanceByName(cfg.Tracker.DistanceModel),
		cfg.Tracker.AverageSpeedKmh,
		cfg.Tracker.ExternalETAMaxAge(),
	)
	var provider eta.Provider
	if cfg.Tracker.MapboxToken != "" {
		provider = eta.NewRecordingProvider(eta.NewMapboxProvider(cfg.Tracker.MapboxToken), archiveRepo)
		log.Info("external eta provider enabled (mapbox)")
	}

	sessions := tracking.NewService(trackingRepo, estimator, provider, log)
	ambulances.OnLocationChanged(sessions.OnLocationChanged)

	scheduler := notify.NewScheduler(trackingRepo, notify.NewLogChannel(log), accounts, log)
	sessions.SetAfterRecompute(scheduler.CheckSession)

	compactor := archive.NewCompactor(gdb, trackingRepo, cfg.Tracker.Retention(), log)

	// 后台循环：通知扫描、归档压缩、GTFS-RT 拉取
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx, cfg.Tracker.SweepInterval())
	go compactor.Run(ctx, cfg.Tracker.ArchiveInterval())
	if cfg.Tracker.GTFSRTFeedURL != "" {
		poller := ingest.NewPoller(cfg.Tracker.GTFSRTFeedURL, ambulances, log)
		go poller.Run(ctx, cfg.Tracker.GTFSRTPollInterval())
	}

	var ingestLimiter middleware.RateLimiter
	if cfg.Tracker.IngestRatePerSec > 0 {
		rate := int64(cfg.Tracker.IngestRatePerSec)
		ingestLimiter = middleware.NewTokenBucket(rate*2, rate)
	}

	handler := api.New(accounts, ambulances, sessions, archiveRepo, ingestLimiter, log)

	if err := server.RunHTTPServer(cfg, log, handler.Router()); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
