// Package broadcast рассылает события синхронизации подписчикам: websocket-клиентам,
// Kafka и Redis. Доставка best-effort, публикация никогда не блокирует прогон.
package broadcast

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// EventType — тип события в конверте.
type EventType string

const (
	EventSyncProgress EventType = "sync.progress"
	EventOrderUpdated EventType = "order.updated"
)

// Event — конверт, который получают все подписчики.
type Event struct {
	Type EventType `json:"type"`
	// Key используется для партиционирования (runId или orderId).
	Key       string    `json:"-"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressEvent упаковывает прогресс прогона.
func ProgressEvent(e domain.ProgressEvent) Event {
	return Event{Type: EventSyncProgress, Key: e.RunID, Payload: e, Timestamp: eventTime(e.OccurredAt)}
}

// OrderUpdateEvent упаковывает обновление заказа.
func OrderUpdateEvent(e domain.OrderUpdateEvent) Event {
	return Event{Type: EventOrderUpdated, Key: e.OrderID, Payload: e, Timestamp: eventTime(e.OccurredAt)}
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Sink доставляет событие одному виду подписчиков.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Noop отбрасывает все события.
type Noop struct{}

func (Noop) PublishProgress(context.Context, domain.ProgressEvent)       {}
func (Noop) PublishOrderUpdate(context.Context, domain.OrderUpdateEvent) {}

var _ domain.Broadcaster = Noop{}
