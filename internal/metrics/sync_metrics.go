// Package metrics содержит prometheus-метрики синхронизации заказов.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты обработки заказа для метки result.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// SyncMetrics содержит метрики прогонов синхронизации. Все методы безопасны для nil.
type SyncMetrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	activeRuns    prometheus.Gauge
	orders        *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	refunds       prometheus.Counter
	auditFailures prometheus.Counter
	eventsDropped prometheus.Counter
}

// NewSyncMetrics создаёт метрики в DefaultRegisterer.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		runs: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smmsync_runs_total",
			Help: "Total number of provider sync runs by action and outcome",
		}, []string{"action", "outcome"}), "smmsync_runs_total"),
		runDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smmsync_run_duration_seconds",
			Help:    "Duration of provider sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}), "smmsync_run_duration_seconds"),
		activeRuns: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smmsync_active_runs",
			Help: "Number of sync runs currently in progress",
		}), "smmsync_active_runs"),
		orders: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smmsync_orders_total",
			Help: "Orders handled by sync runs by provider and result",
		}, []string{"provider", "result"}), "smmsync_orders_total"),
		fetchDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smmsync_provider_fetch_duration_seconds",
			Help:    "Duration of provider status requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}), "smmsync_provider_fetch_duration_seconds"),
		refunds: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smmsync_refunds_total",
			Help: "Refunds credited after provider cancellations",
		}), "smmsync_refunds_total"),
		auditFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smmsync_audit_write_failures_total",
			Help: "Provider order log entries that could not be written",
		}), "smmsync_audit_write_failures_total"),
		eventsDropped: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smmsync_events_dropped_total",
			Help: "Realtime events dropped because the dispatch queue was full",
		}), "smmsync_events_dropped_total"),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T, name string) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RunStarted отмечает начало прогона.
func (m *SyncMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished фиксирует результат и длительность прогона.
func (m *SyncMetrics) RunFinished(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(action, outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordOrder увеличивает счётчик обработанных заказов.
func (m *SyncMetrics) RecordOrder(providerID, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(providerID, result).Inc()
}

// RecordFetch записывает длительность запроса к провайдеру.
func (m *SyncMetrics) RecordFetch(providerID string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(providerID).Observe(duration.Seconds())
}

// RecordRefund увеличивает счётчик возвратов.
func (m *SyncMetrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// RecordAuditFailure увеличивает счётчик несохранённых записей журнала.
func (m *SyncMetrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordEventDropped увеличивает счётчик отброшенных событий.
func (m *SyncMetrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
