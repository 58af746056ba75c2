package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

type providerRepositoryInMemory struct {
	store *Store
}

func (r *providerRepositoryInMemory) Get(_ context.Context, id string) (domain.Provider, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.providers[id]
	if !ok {
		return domain.Provider{}, domain.ErrProviderNotFound
	}
	return p, nil
}

func (r *providerRepositoryInMemory) List(_ context.Context) ([]domain.Provider, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Provider, 0, len(r.store.providers))
	for _, p := range r.store.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.ProviderRepository = (*providerRepositoryInMemory)(nil)
