package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"userhub/internal/auth"
	"userhub/internal/config"
	apphttp "userhub/internal/http"
	"userhub/internal/metrics"
	"userhub/internal/ratelimit"
	"userhub/internal/repository"
	"userhub/internal/repository/gormstore"
	"userhub/internal/repository/sqlite"
	"userhub/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, closeDB, err := openUserRepository(cfg, logger)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer closeDB()

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	m := metrics.New()
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	userService := service.NewUserService(userRepo, hasher, logger,
		service.WithAdminPassword(cfg.Bootstrap.AdminPassword),
		service.WithObserver(m),
	)

	// the admin account must exist before the API accepts traffic
	if _, err := userService.EnsureDefaultAdmin(ctx); err != nil {
		logger.Fatalf("bootstrap admin user: %v", err)
	}

	limiter, closeRedis := buildLimiter(ctx, cfg, logger)
	defer closeRedis()

	tokens := auth.NewTokenSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, tokens, limiter, m, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openUserRepository(cfg config.Config, logger *logrus.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using sqlite database %s", cfg.Database.Path)
		return sqlite.NewUserRepository(db), func() { _ = db.Close() }, nil
	case gormstore.DriverPostgres, gormstore.DriverMySQL:
		db, err := gormstore.Open(gormstore.Options{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		logger.Infof("using %s database", cfg.Database.Driver)
		return gormstore.NewUserRepository(db), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func buildLimiter(ctx context.Context, cfg config.Config, logger *logrus.Logger) (ratelimit.Limiter, func()) {
	if !cfg.RateLimitEnabled() {
		logger.Info("rate limiting disabled (no redis address)")
		return nil, func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := ratelimit.Connect(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warnf("rate limiting disabled: %v", err)
		return nil, func() {}
	}

	logger.Infof("rate limiting via redis %s", cfg.Redis.Addr)
	limiter := ratelimit.NewRedisLimiter(client, ratelimit.Config{
		Capacity:   cfg.RateLimit.Capacity,
		RefillRate: cfg.RateLimit.RefillRate,
	})
	return limiter, func() { closeRedis(client, logger) }
}

func closeRedis(client *redis.Client, logger *logrus.Logger) {
	if err := client.Close(); err != nil {
		logger.Warnf("close redis: %v", err)
	}
}
