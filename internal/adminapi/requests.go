package adminapi

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

// ErrValidation оборачивает любые ошибки разбора и валидации входных данных.
var ErrValidation = errors.New("validation failed")

const (
	maxOrderIDs          = 500
	maxTimeBudgetSeconds = 300
)

var requestValidator = validator.New()

// SyncRequest — тело запроса на запуск синхронизации.
type SyncRequest struct {
	OrderIDs          []string `json:"orderIds" validate:"max=500,dive,required,max=64"`
	SyncAll           bool     `json:"syncAll"`
	ProviderID        string   `json:"providerId" validate:"omitempty,max=64"`
	TimeBudgetSeconds int      `json:"timeBudgetSeconds" validate:"gte=0,lte=300"`
	MaxOrders         int      `json:"maxOrders" validate:"gte=0,lte=500"`
}

// Validate проверяет запрос и возвращает ошибку, обёрнутую в ErrValidation.
func (r SyncRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return validationError(err)
	}
	if !r.SyncAll && len(r.trimmedIDs()) == 0 {
		return fmt.Errorf("%w: orderIds is required unless syncAll is set", ErrValidation)
	}
	return nil
}

// RunRequest переводит DTO в параметры прогона.
func (r SyncRequest) RunRequest() reconcile.Request {
	req := reconcile.Request{
		SyncAll:    r.SyncAll,
		ProviderID: strings.TrimSpace(r.ProviderID),
		MaxOrders:  r.MaxOrders,
	}
	if !r.SyncAll {
		req.OrderIDs = r.trimmedIDs()
	}
	if r.TimeBudgetSeconds > 0 {
		req.TimeBudget = time.Duration(r.TimeBudgetSeconds) * time.Second
	}
	return req
}

func (r SyncRequest) trimmedIDs() []string {
	ids := make([]string, 0, len(r.OrderIDs))
	for _, id := range r.OrderIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// LogQuery — фильтры чтения журнала синхронизации.
type LogQuery struct {
	OrderID    string `json:"orderId" validate:"omitempty,max=64"`
	ProviderID string `json:"providerId" validate:"omitempty,max=64"`
	Action     string `json:"action" validate:"omitempty,oneof=manual_sync bulk_sync scheduled_sync"`
	Status     string `json:"status" validate:"omitempty,oneof=success failed"`
	Page       int    `json:"page" validate:"gte=0"`
	Limit      int    `json:"limit" validate:"gte=0"`
}

// ParseLogQuery собирает LogQuery из строковых параметров запроса.
func ParseLogQuery(get func(string) string) (LogQuery, error) {
	q := LogQuery{
		OrderID:    strings.TrimSpace(get("orderId")),
		ProviderID: strings.TrimSpace(get("providerId")),
		Action:     strings.TrimSpace(get("action")),
		Status:     strings.TrimSpace(get("status")),
	}
	var err error
	if q.Page, err = parseOptionalInt(get("page"), "page"); err != nil {
		return LogQuery{}, err
	}
	if q.Limit, err = parseOptionalInt(get("limit"), "limit"); err != nil {
		return LogQuery{}, err
	}
	return q, q.Validate()
}

func (q LogQuery) Validate() error {
	if err := requestValidator.Struct(q); err != nil {
		return validationError(err)
	}
	return nil
}

// Filter переводит запрос в доменный фильтр.
func (q LogQuery) Filter() domain.LogFilter {
	return domain.LogFilter{
		OrderID:    q.OrderID,
		ProviderID: q.ProviderID,
		Action:     domain.SyncAction(q.Action),
		Status:     domain.LogStatus(q.Status),
		Page:       q.Page,
		Limit:      q.Limit,
	}
}

func parseOptionalInt(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrValidation, field)
	}
	return n, nil
}

// FieldErrors раскладывает ошибки валидатора по полям.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

func validationError(err error) error {
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	names := make([]string, 0, len(fields))
	for name, tag := range fields {
		names = append(names, name+" ("+tag+")")
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s: %w", ErrValidation, strings.Join(names, ", "), err)
}
