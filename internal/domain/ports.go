package domain

import (
	"context"
	"time"
)

// ProgressEvent описывает ход выполнения прогона синхронизации.
type ProgressEvent struct {
	RunID          string    `json:"runId"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Synced         int       `json:"synced"`
	CurrentOrderID string    `json:"currentOrderId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderUpdateEvent отправляется после каждого успешного опроса провайдера.
type OrderUpdateEvent struct {
	OrderID        string      `json:"orderId"`
	UserID         string      `json:"userId"`
	ProviderID     string      `json:"providerId"`
	PreviousStatus OrderStatus `json:"previousStatus"`
	Status         OrderStatus `json:"status"`
	ProviderStatus string      `json:"providerStatus"`
	StartCount     int64       `json:"startCount"`
	Remains        int64       `json:"remains"`
	Charge         string      `json:"charge"`
	Updated        bool        `json:"updated"`
	Refunded       bool        `json:"refunded"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// Broadcaster рассылает события подписчикам. Доставка не гарантируется
// и не должна блокировать вызывающего.
type Broadcaster interface {
	PublishProgress(ctx context.Context, event ProgressEvent)
	PublishOrderUpdate(ctx context.Context, event OrderUpdateEvent)
}
