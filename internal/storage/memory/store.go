// Package memory содержит in-memory реализации репозиториев для локальной разработки и тестов.
package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// Store — общее состояние in-memory хранилища. Транзакции сериализуются
// и применяются целиком только при успешном завершении.
type Store struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	users     map[string]domain.User
	providers map[string]domain.Provider
	logs      []domain.ProviderOrderLog
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		users:     make(map[string]domain.User),
		providers: make(map[string]domain.Provider),
	}
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository { return &orderRepositoryInMemory{store: s} }

// Providers возвращает репозиторий провайдеров.
func (s *Store) Providers() domain.ProviderRepository { return &providerRepositoryInMemory{store: s} }

// AuditLogs возвращает журнал обращений к провайдерам.
func (s *Store) AuditLogs() domain.AuditLogRepository { return &auditLogRepositoryInMemory{store: s} }

// PutProvider добавляет или заменяет провайдера.
func (s *Store) PutProvider(p domain.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// PutUser добавляет или заменяет пользователя.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// User возвращает пользователя или ErrUserNotFound.
func (s *Store) User(id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// WithinTx выполняет fn над копией изменяемых записей и применяет их при nil-ошибке.
// Внутри fn нельзя обращаться к репозиториям Store вне tx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxRepositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:  s,
		orders: make(map[string]domain.Order),
		users:  make(map[string]domain.User),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	return nil
}

// memoryTx хранит изменения до коммита. Вызывается под s.mu.
type memoryTx struct {
	store  *Store
	orders map[string]domain.Order
	users  map[string]domain.User
}

func (tx *memoryTx) Users() domain.UserTxRepository   { return txUsers{tx} }
func (tx *memoryTx) Orders() domain.OrderTxRepository { return txOrders{tx} }

type txUsers struct{ tx *memoryTx }

func (r txUsers) GetForUpdate(_ context.Context, id string) (domain.User, error) {
	if u, ok := r.tx.users[id]; ok {
		return u, nil
	}
	u, ok := r.tx.store.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r txUsers) Save(_ context.Context, u domain.User) error {
	if _, ok := r.tx.store.users[u.ID]; !ok {
		if _, staged := r.tx.users[u.ID]; !staged {
			return domain.ErrUserNotFound
		}
	}
	r.tx.users[u.ID] = u
	return nil
}

type txOrders struct{ tx *memoryTx }

func (r txOrders) GetForUpdate(_ context.Context, id string) (domain.Order, error) {
	if o, ok := r.tx.orders[id]; ok {
		return o, nil
	}
	o, ok := r.tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r txOrders) ApplySync(ctx context.Context, order domain.Order, update domain.SyncUpdate) (domain.Order, error) {
	current, err := r.GetForUpdate(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := applySync(current, order.Version, update)
	if err != nil {
		return domain.Order{}, err
	}
	r.tx.orders[next.ID] = next
	return next, nil
}

// applySync проверяет версию и возвращает обновлённую запись.
func applySync(current domain.Order, expectedVersion int64, update domain.SyncUpdate) (domain.Order, error) {
	if current.Version != expectedVersion {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	next := update.Apply(current)
	next.Version++
	if update.SyncedAt.After(next.UpdatedAt) {
		next.UpdatedAt = update.SyncedAt.UTC()
	}
	return next, nil
}

var _ domain.UnitOfWork = (*Store)(nil)
