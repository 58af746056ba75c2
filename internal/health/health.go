// Package health собирает состояние зависимостей сервиса для HTTP-проб.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Status — итог проверки компонента или всего сервиса.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: итог сервиса равен худшему из проверок.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultCheckTimeout = 2 * time.Second

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	ActiveRuns    int              `json:"active_sync_runs"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Pinger умеет проверить своё соединение (postgres.Store, memory.Store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler держит зарегистрированные проверки и отдаёт их сводку.
type Handler struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	activeRuns func() int

	version   string
	startedAt time.Time
	timeout   time.Duration
}

// NewHandler создаёт handler без проверок.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startedAt: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// ReportActiveRuns подключает счётчик активных прогонов синхронизации.
func (h *Handler) ReportActiveRuns(fn func() int) {
	h.mu.Lock()
	h.activeRuns = fn
	h.mu.Unlock()
}

// Evaluate запускает проверки параллельно, каждую со своим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	activeRuns := h.activeRuns
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		checks  = make(map[string]Check, len(checkers))
		overall = StatusHealthy
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			check := checker.Check(checkCtx)

			resMu.Lock()
			checks[name] = check
			if check.Status.severity() > overall.severity() {
				overall = check.Status
			}
			resMu.Unlock()
		}()
	}
	wg.Wait()

	resp := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if activeRuns != nil {
		resp.ActiveRuns = activeRuns()
	}
	return resp
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Evaluate(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler — короткая проба для балансировщика.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Evaluate(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FuncChecker оборачивает функцию проверки.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
	// onFailure — статус при ошибке: unhealthy для обязательных компонентов.
	onFailure Status
}

// NewFuncChecker создаёт обязательную проверку.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onFailure: StatusUnhealthy}
}

// NewOptionalChecker создаёт проверку, ошибка которой даёт только degraded.
func NewOptionalChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onFailure: StatusDegraded}
}

// NewPingChecker проверяет соединение хранилища.
func NewPingChecker(name string, p Pinger) *FuncChecker {
	return NewFuncChecker(name, p.Ping)
}

// Check implements Checker.
func (c *FuncChecker) Check(ctx context.Context) Check {
	started := time.Now()
	err := c.fn(ctx)

	result := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Status = c.onFailure
		result.Message = err.Error()
	}
	return result
}
