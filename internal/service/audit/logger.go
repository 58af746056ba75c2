// Package audit пишет журнал обращений к провайдерам. Запись журнала не должна
// прерывать синхронизацию: ошибки логируются и учитываются в метриках.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
)

// ErrInvalidFilter — некорректный фильтр чтения журнала.
var ErrInvalidFilter = errors.New("invalid log filter")

// maxResponseLen ограничивает размер сохраняемого тела ответа.
const maxResponseLen = 64 << 10

// RetryConfig конфигурация повторов записи.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Entry — одна попытка синхронизации заказа.
type Entry struct {
	OrderID    string
	ProviderID string
	Action     domain.SyncAction
	Status     domain.LogStatus
	// Response — сырое тело ответа либо структура, которая будет сериализована в JSON.
	Response any
	Err      error
}

// Logger записывает журнал с повторами.
type Logger struct {
	repo    domain.AuditLogRepository
	retry   RetryConfig
	logger  *log.Entry
	metrics *metrics.SyncMetrics
	now     func() time.Time
}

// Option настраивает Logger.
type Option func(*Logger)

// WithRetryConfig задаёт параметры повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(l *Logger) {
		if cfg.MaxAttempts > 0 {
			l.retry = cfg
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger создаёт журнал поверх репозитория.
func NewLogger(repo domain.AuditLogRepository, opts ...Option) *Logger {
	l := &Logger{
		repo:   repo,
		retry:  DefaultRetryConfig(),
		logger: log.New().WithField("component", "audit-logger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record сохраняет запись. Ошибки не возвращаются вызывающему.
func (l *Logger) Record(ctx context.Context, e Entry) {
	entry := domain.ProviderOrderLog{
		ID:         uuid.NewString(),
		OrderID:    e.OrderID,
		ProviderID: e.ProviderID,
		Action:     e.Action,
		Status:     e.Status,
		Response:   serializeResponse(e.Response),
		CreatedAt:  l.now().UTC(),
	}
	if e.Err != nil {
		entry.ErrorMessage = sanitizeText(e.Err.Error(), maxResponseLen)
	}

	// журнал пишем даже если контекст прогона уже отменён
	writeCtx := context.WithoutCancel(ctx)

	delay := l.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= l.retry.MaxAttempts; attempt++ {
		lastErr = l.repo.Append(writeCtx, entry)
		if lastErr == nil {
			if attempt > 1 {
				l.logger.WithFields(log.Fields{
					"order_id": entry.OrderID,
					"attempt":  attempt,
				}).Info("audit entry written after retry")
			}
			return
		}
		if attempt == l.retry.MaxAttempts {
			break
		}

		l.logger.WithError(lastErr).WithFields(log.Fields{
			"order_id": entry.OrderID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("audit write failed, retrying")

		time.Sleep(delay)

		delay = time.Duration(float64(delay) * l.retry.BackoffFactor)
		if delay > l.retry.MaxDelay {
			delay = l.retry.MaxDelay
		}
	}

	l.metrics.RecordAuditFailure()
	l.logger.WithError(lastErr).WithFields(log.Fields{
		"order_id":     entry.OrderID,
		"provider_id":  entry.ProviderID,
		"status":       entry.Status,
		"max_attempts": l.retry.MaxAttempts,
	}).Error("audit entry dropped after all retry attempts")
}

// List возвращает страницу журнала для административного API.
func (l *Logger) List(ctx context.Context, filter domain.LogFilter) (domain.LogPage, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return domain.LogPage{}, fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, filter.Action)
	}
	if filter.Status != "" && filter.Status != domain.LogStatusSuccess && filter.Status != domain.LogStatusFailed {
		return domain.LogPage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, filter.Status)
	}
	return l.repo.List(ctx, filter.Normalize())
}

func serializeResponse(v any) string {
	var out string
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		out = r
	case []byte:
		out = string(r)
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			return ""
		}
		out = string(raw)
	}
	return sanitizeText(out, maxResponseLen)
}

// sanitizeText готовит тело ответа к записи в TEXT: битые байты заменяются,
// NUL вырезается, обрезка идёт по границе руны.
func sanitizeText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// LatestProviderID возвращает провайдера из последней записи по заказу.
func (l *Logger) LatestProviderID(ctx context.Context, orderID string) (string, bool, error) {
	return l.repo.LatestProviderID(ctx, orderID)
}
