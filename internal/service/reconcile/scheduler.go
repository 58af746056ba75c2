package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

const defaultScheduleInterval = 5 * time.Minute

// Runner запускает прогон синхронизации.
type Runner interface {
	Run(ctx context.Context, req Request) (Summary, error)
	ActiveRuns() int
}

// SchedulerOptions задаёт параметры планировщика.
type SchedulerOptions struct {
	Logger     *log.Entry
	Interval   time.Duration
	ProviderID string
}

// SchedulerOption настраивает Scheduler.
type SchedulerOption func(*SchedulerOptions)

// WithSchedulerLogger задаёт logger.
func WithSchedulerLogger(logger *log.Entry) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период плановых прогонов.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Interval = interval
	}
}

// WithProviderFilter ограничивает плановые прогоны одним провайдером.
func WithProviderFilter(providerID string) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.ProviderID = providerID
	}
}

// Scheduler периодически запускает «синхронизировать всё».
// Тик пропускается, если в процессе уже идёт прогон.
type Scheduler struct {
	runner     Runner
	logger     *log.Entry
	interval   time.Duration
	providerID string
}

// NewScheduler создаёт планировщик.
func NewScheduler(runner Runner, options ...SchedulerOption) *Scheduler {
	opts := SchedulerOptions{Interval: defaultScheduleInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-scheduler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScheduleInterval
	}

	return &Scheduler{
		runner:     runner,
		logger:     logger,
		interval:   opts.Interval,
		providerID: opts.ProviderID,
	}
}

// Run запускает плановые прогоны до отмены ctx. Первый прогон стартует через interval.
func (s *Scheduler) Run(ctx context.Context) {
	if s.runner == nil {
		s.logger.Warn("sync scheduler is disabled: runner is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один плановый прогон. Возвращает false, если тик пропущен.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if active := s.runner.ActiveRuns(); active > 0 {
		s.logger.WithField("active_runs", active).Info("sync run in progress, skipping scheduled tick")
		return false
	}

	summary, err := s.runner.Run(ctx, Request{
		SyncAll:    true,
		ProviderID: s.providerID,
		Action:     domain.SyncActionScheduled,
	})
	if err != nil {
		s.logger.WithError(err).Error("scheduled sync run failed")
		return true
	}

	s.logger.WithFields(log.Fields{
		"run_id":    summary.RunID,
		"synced":    summary.SyncedCount,
		"processed": summary.TotalProcessed,
		"failed":    summary.FailedCount,
		"partial":   summary.Partial,
	}).Info("scheduled sync run completed")
	return true
}

var _ Runner = (*Orchestrator)(nil)
