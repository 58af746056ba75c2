package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
)

const (
	defaultQueueSize    = 256
	defaultDeliverLimit = 5 * time.Second
)

// Dispatcher ставит события в буферизированную очередь и раздаёт их синкам в фоне.
// При переполнении очереди событие отбрасывается.
type Dispatcher struct {
	queue        chan Event
	sinks        []Sink
	logger       *log.Entry
	metrics      *metrics.SyncMetrics
	deliverLimit time.Duration

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize задаёт размер очереди.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics подключает счётчик отброшенных событий.
func WithMetrics(m *metrics.SyncMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDeliverTimeout ограничивает время доставки одного события в один синк.
func WithDeliverTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.deliverLimit = timeout
		}
	}
}

// NewDispatcher создаёт диспетчер. Фоновая доставка запускается через Run.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:        make(chan Event, defaultQueueSize),
		sinks:        sinks,
		logger:       log.New().WithField("component", "broadcast-dispatcher"),
		deliverLimit: defaultDeliverLimit,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PublishProgress ставит в очередь событие прогресса.
func (d *Dispatcher) PublishProgress(_ context.Context, event domain.ProgressEvent) {
	d.enqueue(ProgressEvent(event))
}

// PublishOrderUpdate ставит в очередь событие обновления заказа.
func (d *Dispatcher) PublishOrderUpdate(_ context.Context, event domain.OrderUpdateEvent) {
	d.enqueue(OrderUpdateEvent(event))
}

func (d *Dispatcher) enqueue(event Event) {
	select {
	case <-d.done:
		d.drop(event, "dispatcher closed")
		return
	default:
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event, "queue full")
	}
}

func (d *Dispatcher) drop(event Event, reason string) {
	d.metrics.RecordEventDropped()
	d.logger.WithFields(log.Fields{
		"type":   event.Type,
		"key":    event.Key,
		"reason": reason,
	}).Debug("event dropped")
}

// Run доставляет события до отмены ctx или вызова Close, затем дочищает очередь.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return
		case <-d.done:
			d.drain(ctx)
			return
		}
	}
}

// Close прекращает приём событий и ждёт завершения Run, если он был запущен.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })
	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	for _, sink := range d.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, d.deliverLimit)
		err := sink.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"sink": sink.Name(),
				"type": event.Type,
				"key":  event.Key,
			}).Warn("event delivery failed")
		}
	}
}

var _ domain.Broadcaster = (*Dispatcher)(nil)
