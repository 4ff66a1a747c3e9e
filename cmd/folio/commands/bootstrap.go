package commands

import (
	"context"
	"fmt"

	"github.com/wonny/folio/internal/mathengine"
	"github.com/wonny/folio/internal/portfolio"
	"github.com/wonny/folio/internal/staging"
	"github.com/wonny/folio/pkg/config"
	"github.com/wonny/folio/pkg/database"
	"github.com/wonny/folio/pkg/httputil"
	"github.com/wonny/folio/pkg/logger"
	"github.com/wonny/folio/pkg/redis"
)

const keyPrefix = "folio"

// app holds the wired dependencies shared by the commands
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB // nil with the memory store
	redis   *redis.Client
	service *portfolio.Service
	buffer  *staging.Buffer
}

// newApp loads config and wires store, engine client and staging buffer
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)
	a := &app{cfg: cfg, log: log}

	a.redis, err = redis.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var store portfolio.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("Using the in-memory store, data is lost on exit")
		store = portfolio.NewMemoryStore()
	default:
		a.db, err = database.New(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store = portfolio.NewPostgresStore(a.db)
	}

	httpClient := httputil.New(cfg, log)
	if a.redis.Enabled() && cfg.Engine.RateLimit > 0 {
		httpClient.WithRateLimiter(redis.NewRateLimiter(a.redis, keyPrefix), redis.EngineRateLimit(cfg.Engine.RateLimit))
	}
	engine := mathengine.NewClient(httpClient, cfg.Engine.BaseURL, log)

	a.service = portfolio.NewService(store, engine, log).WithWeightTolerance(cfg.Engine.WeightSumTolerance)
	a.buffer = staging.NewBuffer(redis.NewCache(a.redis, keyPrefix), cfg.StagingTTL)

	log.WithFields(map[string]interface{}{
		"store":  cfg.StoreDriver,
		"redis":  a.redis.Enabled(),
		"engine": cfg.Engine.BaseURL,
	}).Debug("Dependencies wired")

	return a, nil
}

// Close releases connections
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
}
