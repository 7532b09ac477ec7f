package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salesdesk/backend/internal/cache"
	"salesdesk/backend/internal/config"
	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/httpapi"
	"salesdesk/backend/internal/service"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/store/boltdb"
	"salesdesk/backend/internal/store/firestore"
	"salesdesk/backend/internal/store/memory"
	pgstore "salesdesk/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	loc, err := validateConfig(cfg)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	if err := repo.EnsureSequence(ctx, domain.SaleCodeSequence); err != nil {
		logger.Fatal("sale code sequence unavailable", zap.Error(err))
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, service.Options{
		Logger:              logger,
		Cache:               reportCache,
		CacheTTL:            time.Duration(cfg.ReportCacheTTLSeconds) * time.Second,
		Location:            loc,
		SequenceMaxAttempts: cfg.SequenceMaxAttempts,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("sales backend listening", zap.String("addr", cfg.Address()), zap.String("driver", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogLevel == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, []func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.DriverBolt:
		db, err := boltdb.New(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: bolt", zap.String("path", cfg.BoltPath))
		return db, []func() error{db.Close}, nil
	case config.DriverFirestore:
		fs, err := firestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: firestore", zap.String("project", cfg.FirestoreProjectID))
		return fs, []func() error{fs.Close}, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	}
}

// validateConfig rejects unusable settings and resolves the report time zone.
func validateConfig(cfg config.Config) (*time.Location, error) {
	if len(cfg.AuthSecret) < 32 {
		return nil, fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case config.DriverBolt:
		if cfg.BoltPath == "" {
			return nil, fmt.Errorf("BOLT_PATH is required for the bolt driver")
		}
	case config.DriverFirestore:
		if cfg.FirestoreProjectID == "" {
			return nil, fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	loc, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}
	return loc, nil
}
