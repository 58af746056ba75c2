package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, e Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher([]Sink{failing, ok})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.PublishProgress(ctx, domain.ProgressEvent{RunID: "run-1", Total: 3})
	d.PublishOrderUpdate(ctx, domain.OrderUpdateEvent{OrderID: "o1", Status: domain.OrderStatusCompleted})

	require.Eventually(t, func() bool { return ok.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, failing.count())

	ok.mu.Lock()
	defer ok.mu.Unlock()
	assert.Equal(t, EventSyncProgress, ok.events[0].Type)
	assert.Equal(t, "run-1", ok.events[0].Key)
	assert.Equal(t, EventOrderUpdated, ok.events[1].Type)
	assert.Equal(t, "o1", ok.events[1].Key)
	assert.False(t, ok.events[1].Timestamp.IsZero())
}

func TestDispatcherDropsWhenQueueIsFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetricsWithRegisterer(reg)
	sink := &recordingSink{name: "slow"}
	d := NewDispatcher([]Sink{sink}, WithQueueSize(1), WithMetrics(m))

	// Run не запущен: первое событие занимает очередь, второе отбрасывается без блокировки.
	done := make(chan struct{})
	go func() {
		d.PublishOrderUpdate(context.Background(), domain.OrderUpdateEvent{OrderID: "o1"})
		d.PublishOrderUpdate(context.Background(), domain.OrderUpdateEvent{OrderID: "o2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var dropped float64
	for _, f := range families {
		if f.GetName() == "smmsync_events_dropped_total" {
			dropped = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, dropped)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	d := NewDispatcher([]Sink{sink}, WithQueueSize(8))

	for i := 0; i < 3; i++ {
		d.PublishProgress(context.Background(), domain.ProgressEvent{RunID: "r", Processed: i})
	}
	go d.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 3, sink.count())

	// после закрытия события отбрасываются
	d.PublishProgress(context.Background(), domain.ProgressEvent{RunID: "late"})
	assert.Equal(t, 3, sink.count())
}

func TestDispatcherBoundsSlowSinks(t *testing.T) {
	slow := &recordingSink{name: "slow", block: make(chan struct{})}
	fast := &recordingSink{name: "fast"}
	d := NewDispatcher([]Sink{slow, fast}, WithDeliverTimeout(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.PublishProgress(ctx, domain.ProgressEvent{RunID: "r"})
	require.Eventually(t, func() bool { return fast.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, slow.count())
}

func TestNoopImplementsBroadcaster(t *testing.T) {
	var b domain.Broadcaster = Noop{}
	b.PublishProgress(context.Background(), domain.ProgressEvent{})
	b.PublishOrderUpdate(context.Background(), domain.OrderUpdateEvent{})
}
