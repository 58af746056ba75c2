package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	store *Store
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	if err := order.ValidateProviderOrderID(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	r.store.orders[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetMany сохраняет порядок входных идентификаторов; дубликаты и неизвестные ID пропускаются.
func (r *orderRepositoryInMemory) GetMany(_ context.Context, ids []string) ([]domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if order, ok := r.store.orders[id]; ok {
			result = append(result, order)
		}
	}
	return result, nil
}

// resolvedProvider повторяет правило группировки: провайдер услуги, иначе последний из журнала.
// Вызывается под s.mu.
func (s *Store) resolvedProvider(order domain.Order) string {
	if order.Service.ProviderID != nil {
		if id := strings.TrimSpace(*order.Service.ProviderID); id != "" {
			return id
		}
	}
	id, _ := s.latestLogProvider(order.ID)
	return strings.TrimSpace(id)
}

// ListSyncCandidates возвращает pending/processing заказы с идентификатором провайдера.
func (r *orderRepositoryInMemory) ListSyncCandidates(_ context.Context, filter domain.CandidateFilter) ([]domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if !isCandidateStatus(order.Status) {
			continue
		}
		if _, ok := order.RemoteID(); !ok {
			continue
		}
		if filter.ProviderID != "" && r.store.resolvedProvider(order) != filter.ProviderID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].LastSyncAt, result[j].LastSyncAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ApplySync применяет обновление с проверкой версии (optimistic locking).
func (r *orderRepositoryInMemory) ApplySync(_ context.Context, order domain.Order, update domain.SyncUpdate) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	next, err := applySync(current, order.Version, update)
	if err != nil {
		return domain.Order{}, err
	}
	r.store.orders[next.ID] = next
	return next, nil
}

// TouchSync сдвигает last_sync_at только вперёд. Версия не меняется.
func (r *orderRepositoryInMemory) TouchSync(_ context.Context, orderID string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.LastSyncAt = domain.LaterSync(current.LastSyncAt, at)
	r.store.orders[orderID] = current
	return nil
}

func isCandidateStatus(st domain.OrderStatus) bool {
	for _, c := range domain.SyncCandidateStatuses {
		if st == c {
			return true
		}
	}
	return false
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
