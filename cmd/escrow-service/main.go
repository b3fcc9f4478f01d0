package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	escrowrepo "dexvault.com/internal/escrow/repo"
	escrowservice "dexvault.com/internal/escrow/service"
	"dexvault.com/internal/gateway/config"
	"dexvault.com/internal/gateway/handler"
	gwhttp "dexvault.com/internal/gateway/http"
	"dexvault.com/internal/watcher/chain/sol"
	watcherdomain "dexvault.com/internal/watcher/domain"
	watcherrepo "dexvault.com/internal/watcher/repo"
	"dexvault.com/internal/watcher/scanner"
	pkgconfig "dexvault.com/pkg/config"
	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/metrics"
	"dexvault.com/pkg/orm"
	"dexvault.com/pkg/safe"
	"dexvault.com/pkg/trace"
	"dexvault.com/pkg/xredis"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// ========= 全局上下文 & 优雅退出 =========
	// DB/Redis/HTTP/摄入引擎都挂在这个 ctx 上，收到 SIGINT/SIGTERM 自动取消
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.EscrowConfig{}
	if _, err := pkgconfig.LoadAndWatch("escrow-service", cfg); err != nil {
		panic(fmt.Sprintf("load config: %+v", err))
	}

	logger.Init(cfg.Name, cfg.Log.Level)
	defer logger.Sync()
	logger.Info(ctx, "服务开始启动")

	metrics.MustRegister()

	// 链路追踪
	if cfg.Trace.Host != "" {
		shutdownTracer, err := trace.InitTrace(cfg.Name, cfg.Trace.Host)
		if err != nil {
			logger.Fatal(ctx, "init tracer error", zap.Error(err))
		}
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(c); err != nil {
				logger.Error(ctx, "shutdown tracer error", zap.Error(err))
			}
		}()
	}

	// ========= 存储 =========
	db := orm.NewMySQL(&orm.Config{
		DSN:         cfg.MySQL.DSN,
		MaxIdle:     cfg.MySQL.MaxIdle,
		MaxOpen:     cfg.MySQL.MaxOpen,
		MaxLifetime: int(cfg.MySQL.MaxLifetime.Seconds()),
	})
	rdb := xredis.NewRedis(&xredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	ledgerRepo := escrowrepo.New(db)
	if err := ledgerRepo.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "migrate ledger schema", zap.Error(err))
	}
	cursorRepo := watcherrepo.New(db)
	if err := cursorRepo.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "migrate cursor schema", zap.Error(err))
	}

	// ========= 服务组装 =========
	// 投影层即账本的缓存作废回调，写路径和缓存一致性在这里闭环
	cache := escrowservice.NewRedisCache(rdb)
	projector := escrowservice.NewProjector(ledgerRepo, cache, cfg.Cache.BalanceTTL)
	ledgerSvc := escrowservice.NewLedgerService(ledgerRepo, projector)

	// ========= 摄入引擎 =========
	adapter := sol.New(cfg.Chain.Endpoint)
	watchCfg := &watcherdomain.WatchConfig{
		Interval:       cfg.Chain.Interval,
		BackoffBase:    cfg.Chain.BackoffBase,
		BackoffMax:     cfg.Chain.BackoffMax,
		MaxRetries:     cfg.Chain.MaxRetries,
		ConsumerCount:  cfg.Chain.ConsumerCount,
		LockTTL:        cfg.Chain.LockTTL,
		RelistInterval: cfg.Chain.RelistInterval,
	}
	applyWatchDefaults(watchCfg)
	// 活动集合由引擎定期重读，新建的活动不用重启就进监控
	engine := scanner.NewEngine(watchCfg, rdb, adapter, cursorRepo, ledgerRepo, ledgerSvc)
	safe.GoCtx(ctx, func(c context.Context) {
		engine.Start(c)
	})

	// ========= HTTP 查询面 =========
	escrowHandler := handler.NewEscrowHandler(ledgerRepo, ledgerSvc, projector, engine,
		decimal.NewFromInt(150)) // SOL 报价，进度估算用
	healthHandler := handler.NewHealthHandler(ledgerRepo, adapter, engine, projector)

	store := gwhttp.NewStore(cfg.RateLimit.QPS, cfg.RateLimit.Burst)
	store.StartJanitor(ctx, time.Minute)
	srv := gwhttp.NewServer(cfg.HTTP.Addr, store, escrowHandler, healthHandler)

	// pprof 只绑本机
	startPprof(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		logger.Error(ctx, "http server error", zap.Error(err))
		stop()
	}

	// 先停接入再等 in-flight 完成
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown error", zap.Error(err))
	}
	log.Println("service stopped")
}

func applyWatchDefaults(c *watcherdomain.WatchConfig) {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ConsumerCount <= 0 {
		c.ConsumerCount = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.RelistInterval <= 0 {
		c.RelistInterval = time.Minute
	}
}

func startPprof(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              "127.0.0.1:6555",
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if e := srv.ListenAndServe(); e != nil && e != http.ErrServerClosed {
			log.Printf("pprof listen error: %v", e)
		}
	}()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
}
