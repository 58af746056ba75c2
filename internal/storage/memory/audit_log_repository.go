package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// auditLogRepositoryInMemory хранит журнал в порядке добавления.
type auditLogRepositoryInMemory struct {
	store *Store
}

// Append добавляет запись в конец журнала.
func (r *auditLogRepositoryInMemory) Append(_ context.Context, entry domain.ProviderOrderLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.logs = append(r.store.logs, entry)
	return nil
}

// LatestProviderID ищет самую свежую запись заказа с заполненным провайдером.
func (r *auditLogRepositoryInMemory) LatestProviderID(_ context.Context, orderID string) (string, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.latestLogProvider(orderID)
	return id, ok, nil
}

// latestLogProvider вызывается под s.mu. При равных отметках побеждает более поздняя вставка.
func (s *Store) latestLogProvider(orderID string) (string, bool) {
	var (
		found  bool
		latest domain.ProviderOrderLog
	)
	for _, entry := range s.logs {
		if entry.OrderID != orderID || entry.ProviderID == "" {
			continue
		}
		if !found || !entry.CreatedAt.Before(latest.CreatedAt) {
			latest = entry
			found = true
		}
	}
	return latest.ProviderID, found
}

// List возвращает страницу журнала, новые записи первыми.
func (r *auditLogRepositoryInMemory) List(_ context.Context, filter domain.LogFilter) (domain.LogPage, error) {
	filter = filter.Normalize()

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	matched := make([]domain.ProviderOrderLog, 0)
	for i := len(r.store.logs) - 1; i >= 0; i-- {
		entry := r.store.logs[i]
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.ProviderID != "" && entry.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		matched = append(matched, entry)
	}

	page := domain.LogPage{Total: len(matched), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start >= len(matched) {
		page.Items = []domain.ProviderOrderLog{}
		return page, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = append([]domain.ProviderOrderLog(nil), matched[start:end]...)
	return page, nil
}

// DeleteBefore удаляет старые записи, сохраняя порядок оставшихся.
func (r *auditLogRepositoryInMemory) DeleteBefore(_ context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.logs[:0]
	deleted := 0
	for _, entry := range r.store.logs {
		if deleted < limit && entry.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	clear(r.store.logs[len(kept):])
	r.store.logs = kept
	return deleted, nil
}

var _ domain.AuditLogRepository = (*auditLogRepositoryInMemory)(nil)
