package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/db"
	"github.com/hpungsan/overseer/internal/dispatch"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/gateway"
	"github.com/hpungsan/overseer/internal/kv"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/metrics"
	"github.com/hpungsan/overseer/internal/supervisor"
	"github.com/hpungsan/overseer/internal/training"
	"github.com/hpungsan/overseer/internal/transfer"
	"github.com/hpungsan/overseer/internal/worker"
)

// services is the wired component graph shared by every command.
type services struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	pool       *worker.Pool
	memory     *memory.Store
	dispatcher *dispatch.Dispatcher
	supervisor *supervisor.Supervisor
	prompts    config.RolePrompts
	transfer   transfer.Options

	closers []func(context.Context) error
}

// newServices wires storage, the worker pool, memory, the dispatcher and the supervisor
// around gw. The database backs training examples and, unless Redis is configured, the KV store.
// Exports default to baseDir/exports.
func newServices(ctx context.Context, cfg *config.Config, baseDir string, database *sql.DB, gw gateway.Gateway, logger *zap.Logger) (*services, error) {
	s := &services{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		transfer: transfer.NewOptions(baseDir, cfg),
	}

	store, err := openKV(ctx, cfg, database)
	if err != nil {
		return nil, err
	}
	// Shutdown runs front to back: consumers first, the KV store last.
	if closer, ok := store.(interface{ Close() error }); ok {
		s.closers = append(s.closers, func(context.Context) error { return closer.Close() })
	}

	prompts, err := config.LoadRolePrompts(cfg.RolePromptsPath)
	if err != nil {
		s.close()
		return nil, err
	}
	s.prompts = prompts

	s.pool = worker.New(worker.Options{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Metrics:     s.metrics,
	})
	s.closers = append([]func(context.Context) error{s.pool.Close}, s.closers...)

	sink := training.NewSQLiteSink(database, s.pool, logger)

	s.memory, err = memory.Open(ctx, memory.Options{
		KV:               store,
		Ingestor:         memory.KVIngestor{Store: store},
		Pool:             s.pool,
		LongTermCacheTTL: cfg.LongTermCacheTTL.Std(),
		Logger:           logger,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	// Memory closes before the pool so pending archive ingestion can still drain.
	s.closers = append([]func(context.Context) error{s.memory.Close}, s.closers...)

	s.dispatcher = dispatch.New(dispatch.Options{
		Memory:         s.memory,
		Gateway:        reliable(gw, "dispatcher", cfg, s.metrics, logger),
		Training:       sink,
		MaxTurns:       cfg.MaxTurns,
		ShortTermLimit: cfg.ShortTermLimit,
		Metrics:        s.metrics,
		Logger:         logger,
	})

	s.supervisor, err = supervisor.New(ctx, supervisor.Options{
		Memory:          s.memory,
		Gateway:         reliable(gw, "supervisor", cfg, s.metrics, logger),
		Training:        sink,
		KV:              store,
		Interval:        cfg.SupervisorInterval.Std(),
		ShortTermLimit:  cfg.SupervisorShortTermLimit,
		MinMemoryChars:  cfg.SupervisorMinMemoryChars,
		ProfileMinChars: cfg.ProfileMinChars,
		Timeout:         cfg.GatewayTimeout.Std(),
		Metrics:         s.metrics,
		Logger:          logger,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append([]func(context.Context) error{func(context.Context) error { return s.supervisor.Close() }}, s.closers...)

	return s, nil
}

// close shuts components down in dependency order, giving background work a few seconds to drain.
func (s *services) close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			s.logger.Warn("shutdown failed", zap.Error(err))
		}
	}
	s.closers = nil
}

// openKV selects the durable KV backend named by cfg.Storage.
func openKV(ctx context.Context, cfg *config.Config, database *sql.DB) (kv.Store, error) {
	switch cfg.Storage {
	case "", config.StorageSQLite:
		return kv.NewSQLite(database), nil
	case config.StorageRedis:
		if cfg.RedisURL == "" {
			return nil, errors.NewInvalidRequest("redis_url is required when storage is redis")
		}
		return kv.NewRedis(ctx, cfg.RedisURL)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown storage %q (expected sqlite or redis)", cfg.Storage))
	}
}

// reliable wraps gw with the configured timeout, pacing and retries.
func reliable(gw gateway.Gateway, caller string, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) gateway.Gateway {
	return gateway.NewReliable(gw, gateway.ReliableOptions{
		Caller:     caller,
		Timeout:    cfg.GatewayTimeout.Std(),
		RatePerSec: cfg.GatewayRatePerSec,
		MaxRetries: cfg.GatewayMaxRetries,
		Metrics:    m,
		Logger:     logger,
	})
}

// newGateway builds the Gemini gateway from GEMINI_API_KEY (or GOOGLE_API_KEY). Without a key
// every call fails with a gateway error, so read-only commands still work.
func newGateway(ctx context.Context, cfg *config.Config) (gateway.Gateway, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return gateway.Func(func(context.Context, gateway.Request) (string, error) {
			return "", errors.NewGateway(fmt.Errorf("GEMINI_API_KEY is not set"))
		}), nil
	}
	return gateway.NewGenAI(ctx, apiKey, cfg.GatewayModel)
}

// openDatabase initializes the SQLite database under baseDir and applies pool settings.
func openDatabase(baseDir string, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)
	return database, nil
}
