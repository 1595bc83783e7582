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

	"tuonane/internal/audit"
	"tuonane/internal/auth"
	"tuonane/internal/billing"
	"tuonane/internal/calls"
	"tuonane/internal/config"
	"tuonane/internal/earnings"
	"tuonane/internal/httpapi"
	"tuonane/internal/media"
	"tuonane/internal/pricing"
	"tuonane/internal/profiles"
	"tuonane/internal/reporting"
	"tuonane/internal/session"
	"tuonane/internal/signaling"
	"tuonane/internal/wallet"
	"tuonane/pkg/logger"
	"tuonane/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth manager init failed", "error", err)
		os.Exit(1)
	}

	// Media provider: Metered.live when credentials are present, the in-process
	// fake otherwise so local stacks run without an external account.
	var mediaProvider media.Provider
	if cfg.Media.AppName != "" && cfg.Media.SecretKey != "" {
		mediaProvider, err = media.NewMeteredProvider(media.MeteredConfig{
			AppName:   cfg.Media.AppName,
			SecretKey: cfg.Media.SecretKey,
		})
		if err != nil {
			log.Error("media provider init failed", "error", err)
			os.Exit(1)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := mediaProvider.HealthCheck(probeCtx); err != nil {
			log.Warn("media provider unreachable at startup", "error", err)
		}
		cancel()
	} else {
		log.Warn("metered credentials not set, using fake media provider")
		mediaProvider = media.NewFakeProvider("local")
	}

	callStore := calls.NewPostgresStore(db)
	profileStore := profiles.NewPostgresStore(db)
	wallets := wallet.NewService(wallet.NewPostgresRepo(db))
	earningHistory := earnings.NewService(earnings.NewPostgresStore(db))
	reports := reporting.NewService(reporting.NewPostgresRepo(db))
	channel := signaling.NewRedisChannel(rdb, log)
	audits := audit.NewService(audit.NewPostgresRepo(db))

	rates, err := pricing.NewService(cfg.Call.DefaultRate)
	if err != nil {
		log.Error("pricing init failed", "error", err)
		os.Exit(1)
	}

	engine := billing.NewEngine(callStore, wallets, channel, log, cfg.Call.TickInterval)
	engine.SetAudit(audits)

	slots, err := utils.NewRedisCallSlots(rdb, 0)
	if err != nil {
		log.Error("call slots init failed", "error", err)
		os.Exit(1)
	}

	controller := session.NewController(session.Config{
		Store:           callStore,
		Profiles:        profileStore,
		Rates:           rates,
		Wallets:         wallets,
		Earnings:        earningHistory,
		Channel:         channel,
		Media:           mediaProvider,
		Engine:          engine,
		Slots:           slots,
		Log:             log,
		RingTimeout:     cfg.Call.RingTimeout,
		MinStartBalance: cfg.Call.MinStartBalance,
	})

	handlers := httpapi.Handlers{
		Auth:       authManager,
		Wallet:     wallets,
		Calls:      callStore,
		Controller: controller,
		Earnings:   earningHistory,
		Reports:    reports,
		Audit:      audits,
		Log:        log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "media", mediaProvider.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	log.Info("api stopped")
}
