package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/storage/memory"
)

type stubPruner struct {
	mu      sync.Mutex
	results []int
	errs    []error
	befores []time.Time
	limits  []int
}

func (s *stubPruner) DeleteBefore(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.befores = append(s.befores, before)
	s.limits = append(s.limits, limit)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func (s *stubPruner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.befores)
}

func TestWorkerPrune_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubPruner{results: []int{2, 2, 1}}
	worker := NewWorker(repo, time.Hour, WithBatchSize(2))

	deleted, err := worker.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, 3, repo.calls())
	assert.Equal(t, []int{2, 2, 2}, repo.limits)
}

func TestWorkerPrune_Error(t *testing.T) {
	t.Parallel()

	repo := &stubPruner{results: []int{2}, errs: []error{nil, errors.New("boom")}}
	worker := NewWorker(repo, time.Hour, WithBatchSize(2))

	deleted, err := worker.Prune(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected prune error")
	}
	if deleted != 2 {
		t.Fatalf("expected partial total 2, got %d", deleted)
	}
}

func TestWorkerRun_UsesCutoffAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubPruner{}
	worker := NewWorker(repo, 24*time.Hour,
		WithInterval(5*time.Millisecond),
		WithClock(func() time.Time { return fixed }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, fixed.Add(-24*time.Hour), repo.befores[0])
}

func TestWorkerRun_DisabledReturnsImmediately(t *testing.T) {
	t.Parallel()

	repo := &stubPruner{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(repo, 0).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
	assert.Zero(t, repo.calls())
}

func TestWorkerPrune_MemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logs := memory.NewStore().AuditLogs()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, logs.Append(ctx, domain.ProviderOrderLog{
			OrderID:   "o1",
			CreatedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		}))
	}

	worker := NewWorker(logs, 48*time.Hour, WithBatchSize(1))
	deleted, err := worker.Prune(ctx, now.Add(-36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	page, err := logs.List(ctx, domain.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}
