package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает каноничный статус заказа на панели.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, провайдер ещё не начал выполнение.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — провайдер выполняет заказ.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted — заказ выполнен полностью.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusPartial — заказ выполнен частично.
	OrderStatusPartial OrderStatus = "partial"
	// OrderStatusCancelled — заказ отменён провайдером.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — средства по заказу возвращены.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFailed — провайдер не смог выполнить заказ.
	OrderStatusFailed OrderStatus = "failed"
)

// legacyCanceled встречается в старых записях и у части провайдеров.
const legacyCanceled = "canceled"

// Valid сообщает, входит ли статус в каноничный набор.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusPartial,
		OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return false
}

// IsCancelled учитывает оба написания отмены.
func (s OrderStatus) IsCancelled() bool {
	return IsCancelledValue(string(s))
}

// IsTerminal возвращает true для статусов, после которых синхронизация не нужна.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return s.IsCancelled()
}

// IsCancelledValue проверяет произвольную строку статуса (в том числе сырой статус провайдера).
func IsCancelledValue(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == string(OrderStatusCancelled) || v == legacyCanceled
}

// SyncCandidateStatuses — статусы, которые попадают в массовую синхронизацию.
var SyncCandidateStatuses = []OrderStatus{OrderStatusPending, OrderStatusProcessing}

// Service — услуга каталога и её привязка к провайдеру.
type Service struct {
	ID   string
	Name string
	// ProviderID может отсутствовать у старых услуг; тогда провайдер ищется по журналу.
	ProviderID        *string
	ProviderServiceID string
}

// Order — локальная копия заказа, размещённого у провайдера.
type Order struct {
	ID       string
	UserID   string
	Link     string
	Quantity int64
	Status   OrderStatus
	// ProviderStatus — последний статус провайдера в каноничной форме.
	ProviderStatus string
	StartCount     int64
	Remains        int64
	// Charge — стоимость, о которой сообщил провайдер.
	Charge decimal.Decimal
	// Price — сумма, списанная с пользователя в его валюте.
	Price decimal.Decimal
	// USDPrice — та же сумма в долларах.
	USDPrice        decimal.Decimal
	ProviderOrderID *string
	LastSyncAt      *time.Time
	Service         Service
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemoteID возвращает идентификатор заказа у провайдера, если он есть.
func (o Order) RemoteID() (string, bool) {
	if o.ProviderOrderID == nil {
		return "", false
	}
	id := strings.TrimSpace(*o.ProviderOrderID)
	if id == "" {
		return "", false
	}
	return id, true
}

// WasCancelled проверяет и каноничный, и сырой статус.
func (o Order) WasCancelled() bool {
	return o.Status.IsCancelled() || IsCancelledValue(o.ProviderStatus)
}

// ValidateProviderOrderID не даёт записать заведомо битый идентификатор провайдера.
func (o Order) ValidateProviderOrderID() error {
	if o.ProviderOrderID == nil {
		return nil
	}
	id := strings.TrimSpace(*o.ProviderOrderID)
	if id == "" || id == o.ID {
		return ErrInvalidProviderOrderID
	}
	return nil
}

// SyncUpdate — значения, наблюдаемые у провайдера во время синхронизации.
type SyncUpdate struct {
	Status         OrderStatus
	ProviderStatus string
	StartCount     int64
	Remains        int64
	Charge         decimal.Decimal
	SyncedAt       time.Time
}

// Differs сравнивает значимые поля с сохранёнными.
func (u SyncUpdate) Differs(o Order) bool {
	return u.Status != o.Status ||
		u.StartCount != o.StartCount ||
		u.Remains != o.Remains ||
		!u.Charge.Equal(o.Charge)
}

// Apply возвращает копию заказа с применённым обновлением. LastSyncAt не откатывается назад.
func (u SyncUpdate) Apply(o Order) Order {
	o.Status = u.Status
	o.ProviderStatus = u.ProviderStatus
	o.StartCount = u.StartCount
	o.Remains = u.Remains
	o.Charge = u.Charge
	o.LastSyncAt = LaterSync(o.LastSyncAt, u.SyncedAt)
	return o
}

// LaterSync возвращает наибольшую из отметок синхронизации.
func LaterSync(current *time.Time, candidate time.Time) *time.Time {
	if current != nil && !candidate.After(*current) {
		t := *current
		return &t
	}
	t := candidate.UTC()
	return &t
}
