package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/noah-isme/smarttask-api/api/swagger"
	"github.com/noah-isme/smarttask-api/internal/handler"
	"github.com/noah-isme/smarttask-api/internal/middleware"
	"github.com/noah-isme/smarttask-api/internal/repository"
	"github.com/noah-isme/smarttask-api/internal/security"
	"github.com/noah-isme/smarttask-api/internal/server"
	"github.com/noah-isme/smarttask-api/internal/service"
	"github.com/noah-isme/smarttask-api/pkg/cache"
	"github.com/noah-isme/smarttask-api/pkg/config"
	"github.com/noah-isme/smarttask-api/pkg/database"
	"github.com/noah-isme/smarttask-api/pkg/jobs"
	"github.com/noah-isme/smarttask-api/pkg/logger"
	"github.com/noah-isme/smarttask-api/pkg/ratelimit"
	"github.com/noah-isme/smarttask-api/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

// @title SmartTask API
// @version 1.0.0
// @description Task management API with JWT sessions and rotating refresh tokens
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logr.Sugar().Fatalw("failed to init telemetry", "error", err)
	}

	codec, err := security.NewTokenCodec(security.TokenConfig{
		Secret:    cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
		AccessTTL: cfg.JWT.AccessTTL,
	})
	if err != nil {
		logr.Sugar().Fatalw("invalid JWT configuration", "error", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "driver", cfg.Database.Driver, "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Sugar().Fatalw("failed to apply migrations", "error", err)
		}
	}

	metrics := service.NewMetricsService()

	audit := service.NewAuditService(repository.NewAuditRepository(db), logr, metrics)
	audit.Start(context.WithoutCancel(ctx), jobs.QueueConfig{
		Workers:      cfg.Audit.Workers,
		BufferSize:   cfg.Audit.BufferSize,
		MaxRetries:   cfg.Audit.MaxRetries,
		RetryDelay:   200 * time.Millisecond,
		DrainTimeout: 5 * time.Second,
		Logger:       logr,
	})

	users := repository.NewUserRepository(db)
	authOpts := []service.AuthOption{service.WithAuditRecorder(audit), service.WithMetrics(metrics)}
	if cfg.Auth.Throttle.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("login throttle disabled, redis unavailable", zap.Error(err))
		} else {
			defer client.Close()
			limiter := ratelimit.NewLoginLimiter(client, ratelimit.Config{
				MaxAttempts: cfg.Auth.Throttle.MaxAttempts,
				Window:      cfg.Auth.Throttle.Window,
			})
			authOpts = append(authOpts, service.WithLoginThrottle(limiter))
		}
	}

	authSvc := service.NewAuthService(users, repository.NewRefreshTokenRepository(db), codec, nil, logr,
		service.AuthConfig{
			RefreshTokenExpiry: cfg.JWT.RefreshTTL,
			ServiceUsername:    cfg.Auth.ServiceUsername,
			ServicePassword:    cfg.Auth.ServicePassword,
		},
		authOpts...,
	)
	taskSvc := service.NewTaskService(repository.NewTaskRepository(db), nil, logr)

	router := server.NewRouter(cfg, server.Dependencies{
		Logger:        logr,
		Metrics:       metrics,
		Authenticator: middleware.Authenticate(codec, users, cfg.Auth.PublicPaths, logr),
		Auth:          handler.NewAuthHandler(authSvc),
		Accounts:      handler.NewAccountHandler(authSvc, audit),
		Tasks:         handler.NewTaskHandler(taskSvc),
		Observability: handler.NewMetricsHandler(metrics, db, logr),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	audit.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracer shutdown failed", zap.Error(err))
	}
}
