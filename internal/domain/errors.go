package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrProviderNotFound возвращается, если провайдер не найден.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrUserNotFound возвращается, если владелец заказа не найден.
	ErrUserNotFound = errors.New("user not found")
	// Ошибка некорректного идентификатора заказа у провайдера.
	ErrInvalidProviderOrderID = errors.New("provider order id is invalid")
	// Ошибка пустого ответа провайдера.
	ErrEmptyResponse = errors.New("provider returned empty response")
	// Ошибка ответа, который не удалось разобрать как JSON.
	ErrMalformedResponse = errors.New("provider returned malformed response")
	// ErrProviderRejected — провайдер вернул поле error в теле ответа.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrStatusMissing — в ответе нет ни одного из ожидаемых полей статуса.
	ErrStatusMissing = errors.New("provider response has no status field")
	// ErrOrderMismatch — провайдер ответил про другой заказ.
	ErrOrderMismatch = errors.New("provider response belongs to another order")
	// Ошибка некорректного запроса на синхронизацию.
	ErrInvalidSyncRequest = errors.New("invalid sync request")
	// ErrRunAborted — прогон синхронизации прерван непредвиденной ошибкой.
	ErrRunAborted = errors.New("sync run aborted")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей записи.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProviderNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
