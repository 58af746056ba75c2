// Package status приводит сырые статусы провайдеров к каноничному набору панели.
package status

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// synonyms — фиксированная таблица написаний, встречающихся у провайдеров.
var synonyms = map[string]domain.OrderStatus{
	"pending":           domain.OrderStatusPending,
	"queued":            domain.OrderStatusPending,
	"queue":             domain.OrderStatusPending,
	"awaiting":          domain.OrderStatusPending,
	"new":               domain.OrderStatusPending,
	"processing":        domain.OrderStatusProcessing,
	"in progress":       domain.OrderStatusProcessing,
	"inprogress":        domain.OrderStatusProcessing,
	"in_progress":       domain.OrderStatusProcessing,
	"in-progress":       domain.OrderStatusProcessing,
	"active":            domain.OrderStatusProcessing,
	"running":           domain.OrderStatusProcessing,
	"completed":         domain.OrderStatusCompleted,
	"complete":          domain.OrderStatusCompleted,
	"done":              domain.OrderStatusCompleted,
	"success":           domain.OrderStatusCompleted,
	"partial":           domain.OrderStatusPartial,
	"partially":         domain.OrderStatusPartial,
	"partial completed": domain.OrderStatusPartial,
	"cancelled":         domain.OrderStatusCancelled,
	"canceled":          domain.OrderStatusCancelled,
	"cancel":            domain.OrderStatusCancelled,
	"refunded":          domain.OrderStatusRefunded,
	"refund":            domain.OrderStatusRefunded,
	"failed":            domain.OrderStatusFailed,
	"fail":              domain.OrderStatusFailed,
	"error":             domain.OrderStatusFailed,
}

// Normalize возвращает каноничный статус. Неизвестные значения дают pending и false.
func Normalize(raw string) (domain.OrderStatus, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if st, ok := synonyms[key]; ok {
		return st, true
	}
	return domain.OrderStatusPending, false
}

// Normalizer — обёртка над Normalize, которая пишет предупреждение о неизвестных статусах.
type Normalizer struct {
	logger *log.Entry
}

// NewNormalizer создаёт нормализатор с логгером.
func NewNormalizer(logger *log.Entry) *Normalizer {
	if logger == nil {
		logger = log.New().WithField("component", "status-normalizer")
	}
	return &Normalizer{logger: logger}
}

// Normalize приводит статус и логирует неизвестные значения. Второе значение
// false означает, что статус не распознан и переход по нему делать нельзя.
func (n *Normalizer) Normalize(raw string) (domain.OrderStatus, bool) {
	st, ok := Normalize(raw)
	if !ok {
		n.logger.WithField("raw_status", raw).Warn("unknown provider status, order status left unchanged")
	}
	return st, ok
}
