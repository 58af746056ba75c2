package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/adminapi"
	"github.com/vladislavdragonenkov/smmsync/internal/broadcast"
	healthcheck "github.com/vladislavdragonenkov/smmsync/internal/health"
	"github.com/vladislavdragonenkov/smmsync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
	"github.com/vladislavdragonenkov/smmsync/internal/provider"
	"github.com/vladislavdragonenkov/smmsync/internal/service/audit"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
	"github.com/vladislavdragonenkov/smmsync/internal/service/refund"
	"github.com/vladislavdragonenkov/smmsync/internal/service/retention"
	"github.com/vladislavdragonenkov/smmsync/internal/status"
	"github.com/vladislavdragonenkov/smmsync/internal/version"
)

const redisPingTimeout = 2 * time.Second

// Dependencies содержит собранный граф сервисов приложения.
type Dependencies struct {
	Orchestrator *reconcile.Orchestrator
	// Scheduler равен nil, если плановые прогоны выключены.
	Scheduler *reconcile.Scheduler
	// Retention равен nil, если журнал хранится бессрочно.
	Retention  *retention.Worker
	Audit      *audit.Logger
	Dispatcher *broadcast.Dispatcher
	Hub        *broadcast.Hub
	Metrics    *metrics.SyncMetrics
	Keys       *adminapi.KeySet
	Health     *healthcheck.Handler
	Logger     *log.Entry

	closers []func() error
}

// NewDependencies создаёт хранилище, клиентов провайдеров, приёмники событий и оркестратор.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runtime, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.NewSyncMetrics(),
		Keys:    adminapi.NewKeySet(cfg.AdminAPIKeys...),
		Health:  healthcheck.NewHandler(version.GetVersion()),
		Logger:  logger,
	}
	if runtime.closeFn != nil {
		deps.closers = append(deps.closers, runtime.closeFn)
	}
	if runtime.storageChecker != nil {
		deps.Health.RegisterChecker("storage", runtime.storageChecker)
	}
	if deps.Keys.Len() == 0 {
		logger.Warn("no admin api keys configured, admin endpoints will reject every request")
	}

	catalog := provider.NewCatalog()
	if cfg.ProviderSpecsPath != "" {
		if catalog, err = provider.LoadCatalog(cfg.ProviderSpecsPath); err != nil {
			_ = deps.Close()
			return nil, err
		}
		logger.WithFields(log.Fields{"path": cfg.ProviderSpecsPath, "providers": catalog.Len()}).Info("provider specs loaded")
	}
	client := provider.NewClient(catalog, provider.WithLogger(logger.WithField("layer", "provider-client")))

	deps.Hub = broadcast.NewHub(
		broadcast.WithAllowedOrigins(cfg.WSAllowedOrigins),
		broadcast.WithMaxConnections(cfg.WSMaxConnections),
		broadcast.WithHubLogger(logger.WithField("layer", "ws-hub")),
	)
	sinks := []broadcast.Sink{deps.Hub}
	sinks = append(sinks, deps.initEventSinks(cfg)...)
	deps.Dispatcher = broadcast.NewDispatcher(sinks,
		broadcast.WithLogger(logger.WithField("layer", "broadcast")),
		broadcast.WithMetrics(deps.Metrics),
	)

	deps.Audit = audit.NewLogger(runtime.auditLogs,
		audit.WithLogger(logger.WithField("layer", "audit")),
		audit.WithMetrics(deps.Metrics),
	)
	refunds := refund.NewHandler(runtime.uow,
		refund.WithLogger(logger.WithField("layer", "refund")),
		refund.WithMetrics(deps.Metrics),
	)

	orchestratorLogger := logger.WithField("layer", "sync")
	deps.Orchestrator, err = reconcile.NewOrchestrator(reconcile.Dependencies{
		Orders:      runtime.orders,
		Providers:   runtime.providers,
		Fetchers:    reconcile.ClientFetchers(client),
		Audit:       deps.Audit,
		Refunds:     refunds,
		Broadcaster: deps.Dispatcher,
		Normalizer:  status.NewNormalizer(orchestratorLogger),
		Metrics:     deps.Metrics,
		Logger:      orchestratorLogger,
	}, cfg.Sync)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	deps.Health.ReportActiveRuns(deps.Orchestrator.ActiveRuns)

	if cfg.SyncInterval > 0 {
		deps.Scheduler = reconcile.NewScheduler(deps.Orchestrator,
			reconcile.WithInterval(cfg.SyncInterval),
			reconcile.WithSchedulerLogger(logger.WithField("layer", "scheduler")),
		)
	}

	if cfg.LogRetention > 0 {
		deps.Retention = retention.NewWorker(runtime.auditLogs, cfg.LogRetention,
			retention.WithLogger(logger.WithField("layer", "retention")),
		)
	}

	return deps, nil
}

// initEventSinks подключает Kafka и Redis, если они настроены.
// Недоступный брокер не мешает запуску: события просто не уходят в этот приёмник.
func (d *Dependencies) initEventSinks(cfg Config) []broadcast.Sink {
	var sinks []broadcast.Sink

	if producer := initKafkaProducer(cfg.KafkaBrokers, d.Logger); producer != nil {
		sinks = append(sinks, kafka.NewSink(producer, cfg.KafkaTopic))
		d.closers = append(d.closers, producer.Close)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			d.Logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is not reachable yet, events will be retried per delivery")
		}
		cancel()
		sinks = append(sinks, broadcast.NewRedisSink(client, cfg.RedisChannel))
		d.Health.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		d.closers = append(d.closers, client.Close)
		d.Logger.WithFields(log.Fields{"addr": cfg.RedisAddr, "channel": cfg.RedisChannel}).Info("redis event sink enabled")
	}

	return sinks
}

// Close освобождает ресурсы в обратном порядке создания.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	if d.Hub != nil {
		d.Hub.Close()
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

// initKafkaProducer инициализирует Kafka producer, если заданы брокеры.
// Ошибка подключения логируется и не останавливает запуск.
func initKafkaProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}
