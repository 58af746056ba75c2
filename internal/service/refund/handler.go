// Package refund возвращает средства пользователю, когда провайдер отменил заказ.
package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/metrics"
)

const baseCurrency = "USD"

// Settlement описывает результат обработки отмены.
type Settlement struct {
	// Order — заказ после сохранения.
	Order    domain.Order
	Refunded bool
	Amount   decimal.Decimal
	Currency string
	// SpentDecrement — на сколько уменьшен total_spent.
	SpentDecrement decimal.Decimal
	// UserMissing — владелец не найден, денежная часть пропущена.
	UserMissing bool
	// AlreadyCancelled — заказ уже был отменён к моменту блокировки строки.
	AlreadyCancelled bool
}

// ComputeRefund переводит долларовую цену заказа в валюту пользователя.
// Второе значение false, если курс непригоден и вернулась сумма в USD.
func ComputeRefund(order domain.Order, user domain.User) (decimal.Decimal, bool) {
	if user.CurrencyCode() == baseCurrency {
		return order.USDPrice, true
	}
	if !user.DollarRate.IsPositive() {
		return order.USDPrice, false
	}
	return order.USDPrice.Mul(user.DollarRate).Round(2), true
}

// spentDecrement возвращает min(исходная цена, возврат); нулевая цена заменяется суммой возврата.
func spentDecrement(order domain.Order, amount decimal.Decimal) decimal.Decimal {
	original := order.Price
	if original.IsZero() {
		original = amount
	}
	return decimal.Min(original, amount)
}

// Handler применяет отмену атомарно: заказ и баланс пользователя меняются в одной транзакции.
type Handler struct {
	uow     domain.UnitOfWork
	logger  *log.Entry
	metrics *metrics.SyncMetrics
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics подключает метрики возвратов.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler создаёт обработчик поверх UnitOfWork.
func NewHandler(uow domain.UnitOfWork, opts ...Option) *Handler {
	h := &Handler{
		uow:    uow,
		logger: log.New().WithField("component", "refund-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ApplyCancellation сохраняет отмену заказа и возвращает деньги.
// Повторная отмена уже отменённого заказа только обновляет прогресс.
func (h *Handler) ApplyCancellation(ctx context.Context, order domain.Order, update domain.SyncUpdate) (Settlement, error) {
	var result Settlement

	err := h.uow.WithinTx(ctx, func(ctx context.Context, tx domain.TxRepositories) error {
		result = Settlement{}

		locked, err := tx.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("lock order %s: %w", order.ID, err)
		}

		if locked.WasCancelled() {
			saved, err := tx.Orders().ApplySync(ctx, locked, update)
			if err != nil {
				return fmt.Errorf("save cancelled order %s: %w", order.ID, err)
			}
			result.Order = saved
			result.AlreadyCancelled = true
			return nil
		}

		user, err := tx.Users().GetForUpdate(ctx, locked.UserID)
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			h.logger.WithFields(log.Fields{
				"order_id": locked.ID,
				"user_id":  locked.UserID,
			}).Warn("order owner not found, refund skipped")
			result.UserMissing = true
		case err != nil:
			return fmt.Errorf("lock user %s: %w", locked.UserID, err)
		default:
			if err := h.settle(ctx, tx, locked, user, &result); err != nil {
				return err
			}
		}

		saved, err := tx.Orders().ApplySync(ctx, locked, update)
		if err != nil {
			return fmt.Errorf("save cancelled order %s: %w", order.ID, err)
		}
		result.Order = saved
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	if result.Refunded {
		h.metrics.RecordRefund()
		h.logger.WithFields(log.Fields{
			"order_id":        result.Order.ID,
			"user_id":         result.Order.UserID,
			"amount":          result.Amount.String(),
			"currency":        result.Currency,
			"spent_decrement": result.SpentDecrement.String(),
		}).Info("order cancelled by provider, balance refunded")
	}
	return result, nil
}

func (h *Handler) settle(ctx context.Context, tx domain.TxRepositories, order domain.Order, user domain.User, result *Settlement) error {
	amount, ok := ComputeRefund(order, user)
	if !ok {
		h.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"user_id":  user.ID,
			"currency": user.Currency,
			"rate":     user.DollarRate.String(),
		}).Warn("user dollar rate is not positive, refunding USD amount")
	}

	user.Balance = user.Balance.Add(amount)

	// TODO: подтвердить у бизнеса, должен ли processing без списания уменьшать total_spent.
	decrement := decimal.Zero
	if order.Status != domain.OrderStatusPending {
		decrement = spentDecrement(order, amount)
		if decrement.GreaterThan(user.TotalSpent) {
			decrement = user.TotalSpent
		}
		if decrement.IsNegative() {
			decrement = decimal.Zero
		}
		user.TotalSpent = user.TotalSpent.Sub(decrement)
	}

	if err := tx.Users().Save(ctx, user); err != nil {
		return fmt.Errorf("save user %s: %w", user.ID, err)
	}

	result.Refunded = true
	result.Amount = amount
	result.Currency = user.CurrencyCode()
	result.SpentDecrement = decrement
	return nil
}
