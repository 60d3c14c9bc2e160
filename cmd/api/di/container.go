package di

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"user-directory-service/cmd/api/infrastructure"
	"user-directory-service/internal/adapter/cache"
	"user-directory-service/internal/adapter/db/sqlstore"
	ginhandler "user-directory-service/internal/adapter/gin/handler"
	"user-directory-service/internal/adapter/gin/middleware"
	"user-directory-service/internal/adapter/gin/router"
	"user-directory-service/internal/adapter/repository/cached"
	"user-directory-service/internal/config"
	"user-directory-service/internal/usecase/user"
	redisclient "user-directory-service/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *gorm.DB
	Store        *sqlstore.Store
	RedisClient  *redisclient.Client // nil when Redis is disabled
	UserUC       user.UserUsecase
	RateLimiter  *middleware.RateLimiter // nil when rate limiting is disabled
	GinHandler   *ginhandler.UserHandler
	HealthChecks []router.HealthCheck
}

// NewContainer creates and initializes all application dependencies
func NewContainer(cfg *config.Config, l *zap.Logger) (*Container, error) {
	// Validate configuration before initializing any dependencies
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	db, err := infrastructure.NewDatabase(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rdb, err := infrastructure.NewRedisClient(cfg, l)
	if err != nil {
		_ = infrastructure.CloseDatabase(db)
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	dbStore := sqlstore.NewStore(db, l)
	checks := []router.HealthCheck{
		{Name: "database", Critical: true, Ping: dbStore.Ping},
	}

	var store user.Store = dbStore
	var rateLimiter *middleware.RateLimiter
	if rdb != nil {
		userCache := cache.NewRedisUserCache(
			rdb.Client,
			time.Duration(cfg.Redis.CacheTTL)*time.Second,
			l,
		)
		store = cached.NewStore(dbStore, userCache, l)
		checks = append(checks, router.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx) },
		})

		if cfg.RateLimit.Enabled {
			rateLimiter = middleware.NewRateLimiter(
				rdb.Client,
				middleware.RateLimiterConfig{
					RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
					BurstCapacity:     cfg.RateLimit.BurstCapacity,
				},
				l,
			)
		}
	}

	userUC := user.New(store, l,
		user.WithStrictUpdates(cfg.App.StrictUpdates),
		user.WithListMaxLimit(cfg.App.ListMaxLimit),
	)

	return &Container{
		Config:       cfg,
		Logger:       l,
		DB:           db,
		Store:        dbStore,
		RedisClient:  rdb,
		UserUC:       userUC,
		RateLimiter:  rateLimiter,
		GinHandler:   ginhandler.NewUserHandler(userUC, l),
		HealthChecks: checks,
	}, nil
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	var errs []error

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if c.DB != nil {
		if err := infrastructure.CloseDatabase(c.DB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("container close errors: %v", errs)
	}

	return nil
}
