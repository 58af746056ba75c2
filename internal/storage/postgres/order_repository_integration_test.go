package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

func TestOrderRepository_PostgresCreateGetAndCandidates(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProviderAndUser(t, store, "prov-1", "user-1")
	seedProviderAndUser(t, store, "prov-2", "user-1")
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	pending := sampleOrder("order-1", "user-1", "prov-1", domain.OrderStatusPending, now.Add(-3*time.Minute))
	processing := sampleOrder("order-2", "user-1", "prov-1", domain.OrderStatusProcessing, now.Add(-2*time.Minute))
	synced := now.Add(-time.Minute)
	processing.LastSyncAt = &synced
	completed := sampleOrder("order-3", "user-1", "prov-1", domain.OrderStatusCompleted, now.Add(-time.Minute))
	other := sampleOrder("order-4", "user-1", "prov-2", domain.OrderStatusPending, now)

	for _, o := range []domain.Order{pending, processing, completed, other} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}
	if err := repo.Create(ctx, pending); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}

	got, err := repo.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Service.ProviderID == nil || *got.Service.ProviderID != "prov-1" {
		t.Fatalf("unexpected service binding: %+v", got.Service)
	}
	if !got.Price.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("unexpected price %s", got.Price)
	}

	many, err := repo.GetMany(ctx, []string{"order-4", "missing", "order-1"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(many) != 2 || many[0].ID != "order-4" || many[1].ID != "order-1" {
		t.Fatalf("unexpected order of results: %+v", many)
	}

	candidates, err := repo.ListSyncCandidates(ctx, domain.CandidateFilter{ProviderID: "prov-1"})
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 2 || candidates[0].ID != "order-1" || candidates[1].ID != "order-2" {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	all, err := repo.ListSyncCandidates(ctx, domain.CandidateFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list candidates with limit: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}
}

func TestOrderRepository_PostgresApplySyncAndTouch(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProviderAndUser(t, store, "prov-1", "user-1")
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-1", "user-1", "prov-1", domain.OrderStatusProcessing, time.Now().UTC().Add(-time.Hour))
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}

	syncedAt := time.Now().UTC().Round(time.Microsecond)
	saved, err := repo.ApplySync(ctx, order, domain.SyncUpdate{
		Status:         domain.OrderStatusCompleted,
		ProviderStatus: "Completed",
		StartCount:     10,
		Remains:        0,
		Charge:         decimal.RequireFromString("1.75"),
		SyncedAt:       syncedAt,
	})
	if err != nil {
		t.Fatalf("apply sync: %v", err)
	}
	if saved.Version != 1 || saved.Status != domain.OrderStatusCompleted || saved.ProviderStatus != "Completed" {
		t.Fatalf("unexpected saved order: %+v", saved)
	}
	if saved.LastSyncAt == nil || !saved.LastSyncAt.Equal(syncedAt) {
		t.Fatalf("unexpected last sync: %v", saved.LastSyncAt)
	}

	if _, err := repo.ApplySync(ctx, order, domain.SyncUpdate{Status: domain.OrderStatusFailed}); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := repo.ApplySync(ctx, domain.Order{ID: "missing"}, domain.SyncUpdate{}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := repo.TouchSync(ctx, order.ID, syncedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("touch sync: %v", err)
	}
	got, _ := repo.Get(ctx, order.ID)
	if !got.LastSyncAt.Equal(syncedAt) {
		t.Fatalf("last sync moved backwards: %v", got.LastSyncAt)
	}
	if err := repo.TouchSync(ctx, "missing", syncedAt); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_PostgresRejectsSelfReferencingProviderID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProviderAndUser(t, store, "prov-1", "user-1")
	repo := NewOrderRepository(store)

	order := sampleOrder("order-1", "user-1", "prov-1", domain.OrderStatusPending, time.Now().UTC())
	order.ProviderOrderID = &order.ID
	if err := repo.Create(context.Background(), order); !errors.Is(err, domain.ErrInvalidProviderOrderID) {
		t.Fatalf("expected ErrInvalidProviderOrderID, got %v", err)
	}
}

func TestOrderRepository_PostgresCandidatesResolveProviderFromLog(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProviderAndUser(t, store, "prov-1", "user-1")
	seedProviderAndUser(t, store, "prov-2", "user-1")
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	unbound := sampleOrder("order-1", "user-1", "prov-1", domain.OrderStatusPending, now.Add(-time.Minute))
	unbound.Service = domain.Service{ID: "svc-unbound", Name: "Views", ProviderServiceID: "7"}
	if err := repo.Create(ctx, unbound); err != nil {
		t.Fatalf("create unbound order: %v", err)
	}

	logs := NewAuditLogRepository(store)
	for i, providerID := range []string{"prov-2", "prov-1"} {
		if err := logs.Append(ctx, domain.ProviderOrderLog{
			OrderID:    unbound.ID,
			ProviderID: providerID,
			Action:     domain.SyncActionManual,
			Status:     domain.LogStatusSuccess,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	viaLog, err := repo.ListSyncCandidates(ctx, domain.CandidateFilter{ProviderID: "prov-1"})
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(viaLog) != 1 || viaLog[0].ID != unbound.ID {
		t.Fatalf("order must be resolved through the latest log entry: %+v", viaLog)
	}

	stale, err := repo.ListSyncCandidates(ctx, domain.CandidateFilter{ProviderID: "prov-2"})
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("older log entry must not bind the order: %+v", stale)
	}
}
