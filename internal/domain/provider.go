package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderStatus — статус записи провайдера.
type ProviderStatus string

const (
	ProviderStatusActive   ProviderStatus = "active"
	ProviderStatusInactive ProviderStatus = "inactive"
)

// DefaultProviderTimeout используется, если у провайдера не задан таймаут.
const DefaultProviderTimeout = 30 * time.Second

// Provider — внешний поставщик услуг с HTTP API.
type Provider struct {
	ID             string
	Name           string
	APIURL         string
	APIKey         string
	HTTPMethod     string
	TimeoutSeconds int
	Status         ProviderStatus
}

// Active сообщает, можно ли синхронизировать заказы провайдера.
func (p Provider) Active() bool {
	return p.Status == ProviderStatusActive
}

// Timeout возвращает таймаут одного запроса к провайдеру.
func (p Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultProviderTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// User — владелец заказа и его денежные счётчики.
type User struct {
	ID         string
	Balance    decimal.Decimal
	TotalSpent decimal.Decimal
	// Currency — валюта отображения баланса; пустая строка означает USD.
	Currency string
	// DollarRate — курс USD к валюте пользователя.
	DollarRate decimal.Decimal
}

// CurrencyCode возвращает код валюты с учётом значения по умолчанию.
func (u User) CurrencyCode() string {
	code := strings.ToUpper(strings.TrimSpace(u.Currency))
	if code == "" {
		return "USD"
	}
	return code
}
