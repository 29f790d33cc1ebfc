package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/roro-pixel/bokati-sub001/internal/assets"
	"github.com/roro-pixel/bokati-sub001/internal/banking"
	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/fiscal/workflowstore"
	"github.com/roro-pixel/bokati-sub001/internal/ledger"
	"github.com/roro-pixel/bokati-sub001/internal/platform/cache"
	"github.com/roro-pixel/bokati-sub001/internal/platform/db"
	"github.com/roro-pixel/bokati-sub001/internal/reportcache"
	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

// Services bundles the long lived dependencies shared by the binaries.
type Services struct {
	Fiscal      *fiscal.Service
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Reports     *reportcache.Cache
	Idempotency *shared.IdempotencyStore
	Workflows   fiscal.WorkflowStore

	logger *slog.Logger
}

// BuildServices connects the configured stores and assembles the fiscal
// service. Redis is optional: when it is unreachable workflows stay in memory
// and report invalidation is skipped.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	s := &Services{logger: logger}

	client, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, using in-memory workflows", slog.Any("error", err))
	} else {
		s.Redis = client
		s.Reports = reportcache.New(client, cfg.ReportTTL)
		s.Workflows = workflowstore.New(client, cfg.WorkflowTTL)
	}
	if s.Workflows == nil {
		s.Workflows = fiscal.NewMemoryWorkflowStore()
	}

	deps := fiscal.Dependencies{
		Workflows: s.Workflows,
		Logger:    logger,
		Audit:     shared.NewSlogAuditor(logger),
	}
	if s.Reports != nil {
		deps.Reports = s.Reports
	}

	var repo fiscal.Repository
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		logger.Warn("memory store selected, closing checks are disabled")
		repo = fiscal.NewMemoryRepository()
	default:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		s.Pool = pool
		s.Idempotency = shared.NewIdempotencyStore(pool)
		repo = fiscal.NewPgRepository(pool)
		deps.Ledger = ledger.NewPostgres(pool, cfg.Scale())
		deps.Reconciliation = banking.NewPostgres(pool)
		deps.Depreciation = assets.NewPostgres(pool, cfg.Scale())
		deps.Audit = shared.FallbackAuditor{
			Primary:  shared.NewAuditLogger(pool),
			Fallback: shared.NewSlogAuditor(logger),
		}
	}

	s.Fiscal = fiscal.NewService(repo, deps)
	return s, nil
}

// Close releases the database pool and the Redis client.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
