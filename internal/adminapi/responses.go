package adminapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

// Envelope — общая форма ответа административного API.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// SyncEnvelope оборачивает итог прогона. Частичный прогон остаётся успешным.
func SyncEnvelope(summary reconcile.Summary) Envelope {
	return Envelope{
		Success: true,
		Message: SyncMessage(summary),
		Data:    summary,
	}
}

// SyncMessage формирует человекочитаемое описание итога.
func SyncMessage(s reconcile.Summary) string {
	msg := fmt.Sprintf("synced %d of %d processed orders", s.SyncedCount, s.TotalProcessed)
	if s.FailedCount > 0 {
		msg += fmt.Sprintf(", %d failed", s.FailedCount)
	}
	if s.Partial {
		msg += " (partial: " + s.StopReason + ")"
	}
	return msg
}

// LogView — запись журнала в ответе API.
type LogView struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderId"`
	ProviderID   string          `json:"providerId"`
	Action       string          `json:"action"`
	Status       string          `json:"status"`
	Response     json.RawMessage `json:"response,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type LogsData struct {
	Logs       []LogView  `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// LogsEnvelope оборачивает страницу журнала.
func LogsEnvelope(page domain.LogPage) Envelope {
	logs := make([]LogView, 0, len(page.Items))
	for _, item := range page.Items {
		logs = append(logs, LogView{
			ID:           item.ID,
			OrderID:      item.OrderID,
			ProviderID:   item.ProviderID,
			Action:       string(item.Action),
			Status:       string(item.Status),
			Response:     rawResponse(item.Response),
			ErrorMessage: item.ErrorMessage,
			CreatedAt:    item.CreatedAt.UTC(),
		})
	}
	return Envelope{
		Success: true,
		Data: LogsData{
			Logs: logs,
			Pagination: Pagination{
				Page:       page.Page,
				Limit:      page.Limit,
				Total:      page.Total,
				TotalPages: page.TotalPages(),
			},
		},
	}
}

// ErrorEnvelope — ответ с ошибкой.
func ErrorEnvelope(message string, fields map[string]string) Envelope {
	return Envelope{Success: false, Message: message, Errors: fields}
}

// Тело ответа провайдера хранится строкой; если это JSON, отдаём как есть.
func rawResponse(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
