package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aflahtk001/hospital-booking-system/internal/api"
	"github.com/aflahtk001/hospital-booking-system/internal/config"
	"github.com/aflahtk001/hospital-booking-system/internal/db"
	"github.com/aflahtk001/hospital-booking-system/internal/observability/metrics"
	"github.com/aflahtk001/hospital-booking-system/internal/queue"
	redisclient "github.com/aflahtk001/hospital-booking-system/internal/redis"
	"github.com/aflahtk001/hospital-booking-system/internal/ws"
	"github.com/aflahtk001/hospital-booking-system/pkg/logging"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel).WithComponent("api-server")
	log.Info("starting up", "env", cfg.Env, "http_port", cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", "error", err)
		}
	}()
	log.Info("connected to Redis")

	repo := queue.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	hub := ws.NewHub(log.WithComponent("ws"))
	qm := metrics.NewQueueMetrics(nil)

	svc := queue.NewService(repo, locker, hub, queue.Config{
		LockRetries:      cfg.LockRetries,
		LockRetryDelay:   cfg.LockRetryDelay,
		ConsultMinutes:   cfg.ConsultMinutes,
		EmergencyMinutes: cfg.EmergencyLength,
	}, log.WithComponent("queue"), qm)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Hub:       hub,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    log.WithComponent("http"),
		JWTSecret: cfg.JWTSecret,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("api-server stopped")
}
