// Package retention периодически удаляет устаревшие записи журнала обращений к провайдерам.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

const (
	defaultInterval  = time.Hour
	defaultBatchSize = 1000
)

var (
	pruneRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smmsync_log_retention_runs_total",
		Help: "Total number of provider log retention runs grouped by result.",
	}, []string{"result"})
	prunedLogsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smmsync_log_retention_deleted_total",
		Help: "Total number of provider order log entries removed by retention.",
	})
)

// Pruner — часть журнала, нужная воркеру.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker хранит журнал не дольше maxAge.
type Worker struct {
	logs      Pruner
	maxAge    time.Duration
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер. maxAge <= 0 означает, что журнал хранится бессрочно.
func NewWorker(logs Pruner, maxAge time.Duration, opts ...Option) *Worker {
	w := &Worker{
		logs:      logs,
		maxAge:    maxAge,
		logger:    log.New().WithField("component", "log-retention"),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run чистит журнал сразу и затем каждые interval, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.logs == nil || w.maxAge <= 0 {
		w.logger.Info("provider log retention is disabled")
		return
	}

	w.prune(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *Worker) prune(ctx context.Context) {
	cutoff := w.now().Add(-w.maxAge)
	deleted, err := w.Prune(ctx, cutoff)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		pruneRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", deleted).Warn("provider log retention run failed")
		return
	}

	pruneRunsTotal.WithLabelValues("ok").Inc()
	if deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("provider log retention completed")
	}
}

// Prune удаляет записи старше before порциями batchSize.
func (w *Worker) Prune(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.logs.DeleteBefore(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted > 0 {
			prunedLogsTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}

var _ Pruner = (domain.AuditLogRepository)(nil)
