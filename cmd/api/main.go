package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"call-platform/internal/admission"
	"call-platform/internal/alerting"
	"call-platform/internal/auth"
	"call-platform/internal/config"
	"call-platform/internal/dialer"
	"call-platform/internal/httpapi"
	"call-platform/internal/ledger"
	"call-platform/internal/monitor"
	"call-platform/internal/reporting"
	"call-platform/internal/telephony"
	"call-platform/pkg/logger"
	"call-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := ledger.NewPGStore(db)
	provider := telephony.NewTwilioProvider(cfg.Provider)

	lineGate := admission.RedisLines{RDB: rdb}
	gate := admission.NewController(store, lineGate,
		admission.RedisCooldown{RDB: rdb},
		cfg.Billing.LowCreditCooldown, log)

	lifecycle := monitor.New(store, provider, lineGate,
		cfg.Billing.MonitorInterval,
		cfg.Billing.DefaultRatePerMinute,
		cfg.Billing.AlertCooldown, log)
	go lifecycle.Run(rootCtx)

	sweeper := alerting.NewSweeper(store, nil, cfg.Billing.AlertCooldown, log)
	if err := sweeper.Start(cfg.Billing.AlertSweepInterval); err != nil {
		log.Error("alert sweep init failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	campaigns := dialer.NewManager(store, provider, dialer.Options{
		From:    cfg.Provider.CallerNumber,
		FlowRef: cfg.Provider.BaseURL,
	}, log)
	defer campaigns.Shutdown()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Dialer:    campaigns,
		Reporting: reporting.NewService(store),
		Store:     store,
	}
	registerRoutes(r, handlers, gate, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
