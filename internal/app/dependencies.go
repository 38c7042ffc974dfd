package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// outboxBacklogLimit — порог очереди outbox, после которого сервис считается degraded.
const outboxBacklogLimit = 10000

// Dependencies содержит хранилища и внешние сервисы приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Catalog     domain.CatalogService
	Checks      map[string]healthcheck.Checker

	closers []func() error
}

// NewDependencies собирает хранилища по секции storage и наполняет каталог.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	entries, err := cfg.Catalog.Entries()
	if err != nil {
		return nil, err
	}

	var deps *Dependencies
	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		deps, err = newPostgresDependencies(ctx, cfg.Storage, entries, logger)
	case StorageDriverMemory, "":
		deps, err = newMemoryDependencies(entries, logger)
	default:
		err = errors.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	outboxRepo := deps.Outbox
	deps.Checks["outbox"] = healthcheck.NewCheck("outbox", false, func(ctx context.Context) error {
		stats, err := outboxRepo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > outboxBacklogLimit {
			return errors.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, outboxBacklogLimit)
		}
		return nil
	})
	return deps, nil
}

func newMemoryDependencies(entries []domain.CatalogEntry, logger *log.Entry) (*Dependencies, error) {
	static, err := catalog.NewStatic(entries...)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog")
	}

	store := memory.NewStore()
	logger.WithField("products", len(entries)).Info("using in-memory storage")
	return &Dependencies{
		Orders:      memory.NewOrderRepository(store),
		Outbox:      memory.NewOutboxRepository(store),
		Timeline:    memory.NewTimelineRepository(store),
		Idempotency: memory.NewIdempotencyRepository(),
		Catalog:     static,
		Checks: map[string]healthcheck.Checker{
			"storage": healthcheck.NewCheck("storage", true, func(context.Context) error { return nil }),
		},
	}, nil
}

func newPostgresDependencies(ctx context.Context, cfg StorageConfig, entries []domain.CatalogEntry, logger *log.Entry) (*Dependencies, error) {
	store, err := postgres.OpenWithOptions(ctx, cfg.DSN, postgres.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := store.EnsureSchema(migrateCtx)
		cancel()
		if err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "apply migrations")
		}
	}

	products := postgres.NewCatalogRepository(store)
	for _, entry := range entries {
		if err := catalog.Validate(entry); err != nil {
			_ = store.Close()
			return nil, errors.Wrapf(err, "catalog product %s", entry.ProductID)
		}
		if err := products.Upsert(ctx, entry); err != nil {
			_ = store.Close()
			return nil, errors.Wrapf(err, "seed catalog product %s", entry.ProductID)
		}
	}

	logger.WithFields(log.Fields{"products": len(entries), "auto_migrate": cfg.AutoMigrate}).Info("using postgres storage")
	return &Dependencies{
		Orders:      postgres.NewOrderRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Timeline:    postgres.NewTimelineRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		Catalog:     products,
		Checks: map[string]healthcheck.Checker{
			"storage": healthcheck.NewCheck("storage", true, store.Ping),
		},
		closers: []func() error{store.Close},
	}, nil
}

// Close освобождает ресурсы хранилищ.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
