package domain

import (
	"context"
	"time"
)

// CandidateFilter ограничивает выборку заказов для массовой синхронизации.
type CandidateFilter struct {
	ProviderID string
	Limit      int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если запись с таким ID уже есть.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetMany возвращает найденные заказы в порядке входных идентификаторов, неизвестные пропускаются.
	GetMany(ctx context.Context, ids []string) ([]Order, error)
	// ListSyncCandidates возвращает незавершённые заказы с идентификатором провайдера,
	// начиная с давно не синхронизированных.
	ListSyncCandidates(ctx context.Context, filter CandidateFilter) ([]Order, error)
	// ApplySync применяет обновление с учётом optimistic locking по order.Version.
	ApplySync(ctx context.Context, order Order, update SyncUpdate) (Order, error)
	// TouchSync сдвигает last_sync_at вперёд, не трогая остальные поля.
	TouchSync(ctx context.Context, orderID string, at time.Time) error
}

// ProviderRepository хранит справочник провайдеров.
type ProviderRepository interface {
	Get(ctx context.Context, id string) (Provider, error)
	List(ctx context.Context) ([]Provider, error)
}

// AuditLogRepository хранит журнал обращений к провайдерам.
type AuditLogRepository interface {
	Append(ctx context.Context, entry ProviderOrderLog) error
	// LatestProviderID возвращает провайдера из самой свежей записи по заказу.
	LatestProviderID(ctx context.Context, orderID string) (string, bool, error)
	List(ctx context.Context, filter LogFilter) (LogPage, error)
	// DeleteBefore удаляет не более limit самых старых записей, созданных раньше before.
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// UserTxRepository — операции над пользователями внутри транзакции.
type UserTxRepository interface {
	// GetForUpdate блокирует строку пользователя до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, user User) error
}

// OrderTxRepository — операции над заказами внутри транзакции.
type OrderTxRepository interface {
	GetForUpdate(ctx context.Context, id string) (Order, error)
	ApplySync(ctx context.Context, order Order, update SyncUpdate) (Order, error)
}

// TxRepositories доступны только внутри UnitOfWork.WithinTx.
type TxRepositories interface {
	Users() UserTxRepository
	Orders() OrderTxRepository
}

// UnitOfWork выполняет функцию атомарно: либо все изменения применяются, либо ни одно.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepositories) error) error
}
