// Command api serves the gate backend: the action envelope, health and metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qrgate/internal/api"
	"qrgate/internal/app"
	"qrgate/internal/attendance"
	"qrgate/internal/config"
	"qrgate/internal/httpmiddleware"
	"qrgate/internal/lector"
	"qrgate/internal/security"
	"qrgate/internal/stats"
	"qrgate/internal/users"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("problem", w))
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSigningKey == "dev-signing-secret-change" {
			logger.Fatal("JWT_SIGNING_KEY must be set in production")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	readers := lector.DefaultReaders
	if cfg.Readers != "" {
		if readers, err = lector.ParseReaders(cfg.Readers); err != nil {
			return err
		}
	}
	catalog, err := lector.NewCatalog(readers)
	if err != nil {
		return err
	}

	locks := lector.NewLockService(backends.Locks, catalog, cfg.LockLeaseTTL, logger.Named("locks"))
	remote := lector.NewRemoteControl(backends.Settings, logger.Named("remote"))
	gate := security.NewService(backends.Settings, logger.Named("security"), security.Options{
		DefaultPassword: cfg.LectorDefaultPassword,
		MaxAttempts:     cfg.LectorMaxAttempts,
	})
	att := attendance.NewService(backends.Users, backends.Events, remote, locks, backends.Queue, logger.Named("attendance"), attendance.Options{
		Zone:         cfg.SchoolZone(),
		EnforceLease: cfg.EnforceReaderLock,
	})
	counters := stats.New(backends.Counters, logger.Named("stats"))
	directory := users.NewService(backends.Users, logger.Named("users"), 0)

	if cfg.AdminEmail != "" {
		if err := directory.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
			return err
		}
	}

	// with the in-memory queue nobody else can consume scan notices
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := counters.Run(ctx, backends.Queue); err != nil {
				logger.Error("stats consumer", zap.Error(err))
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger.Named("http"), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := gin.H{}
		for name, p := range backends.Health {
			healthy := p.Ping(hctx) == nil
			report[name] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		report["status"] = http.StatusText(status)
		c.JSON(status, report)
	})

	api.NewHandler(api.Deps{
		Security:   gate,
		Locks:      locks,
		Remote:     remote,
		Attendance: att,
		Stats:      counters,
		Users:      directory,
	}, api.TokenConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  cfg.JWTSigningKey,
		OperatorTTL: cfg.OperatorTTL,
		AdminTTL:    cfg.AdminTTL,
	}, logger.Named("api")).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
