package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/smmsync/internal/health"
	"github.com/vladislavdragonenkov/smmsync/internal/storage/memory"
	"github.com/vladislavdragonenkov/smmsync/internal/storage/postgres"
)

const storageOpenTimeout = 10 * time.Second

// runtimeDependencies — хранилище, выбранное конфигурацией.
type runtimeDependencies struct {
	orders         domain.OrderRepository
	providers      domain.ProviderRepository
	auditLogs      domain.AuditLogRepository
	uow            domain.UnitOfWork
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Warn("using in-memory storage, state is lost on restart")
		return &runtimeDependencies{
			orders:    store.Orders(),
			providers: store.Providers(),
			auditLogs: store.AuditLogs(),
			uow:       store,
		}, nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres storage driver requires SMM_POSTGRES_DSN")
		}

		openCtx, cancel := context.WithTimeout(ctx, storageOpenTimeout)
		defer cancel()

		store, err := postgres.Open(openCtx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(openCtx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			version, applied, err := store.MigrationStatus(openCtx)
			if err == nil {
				logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres schema is up to date")
			}
		}

		return &runtimeDependencies{
			orders:         postgres.NewOrderRepository(store),
			providers:      postgres.NewProviderRepository(store),
			auditLogs:      postgres.NewAuditLogRepository(store),
			uow:            postgres.NewUnitOfWork(store),
			storageChecker: healthcheck.NewPingChecker("storage", store),
			closeFn:        store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
