package domain

import "time"

// SyncAction — контекст, в котором была выполнена синхронизация.
type SyncAction string

const (
	SyncActionManual    SyncAction = "manual_sync"
	SyncActionBulk      SyncAction = "bulk_sync"
	SyncActionScheduled SyncAction = "scheduled_sync"
)

// Valid проверяет, что действие известно.
func (a SyncAction) Valid() bool {
	switch a {
	case SyncActionManual, SyncActionBulk, SyncActionScheduled:
		return true
	}
	return false
}

// LogStatus — результат одной попытки синхронизации.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// ProviderOrderLog — запись журнала обращений к провайдеру. Только добавление.
type ProviderOrderLog struct {
	ID           string
	OrderID      string
	ProviderID   string
	Action       SyncAction
	Status       LogStatus
	Response     string
	ErrorMessage string
	CreatedAt    time.Time
}

// LogFilter задаёт фильтры и пагинацию для чтения журнала.
type LogFilter struct {
	OrderID    string
	ProviderID string
	Action     SyncAction
	Status     LogStatus
	Page       int
	Limit      int
}

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// Normalize приводит пагинацию к допустимым значениям.
func (f LogFilter) Normalize() LogFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultLogLimit
	}
	if f.Limit > maxLogLimit {
		f.Limit = maxLogLimit
	}
	return f
}

// Offset возвращает смещение для текущей страницы.
func (f LogFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// LogPage — страница журнала и общее количество записей.
type LogPage struct {
	Items []ProviderOrderLog
	Total int
	Page  int
	Limit int
}

// TotalPages возвращает количество страниц.
func (p LogPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
