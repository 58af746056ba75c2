// Package httpapi — HTTP административный API сервиса синхронизации.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/adminapi"
	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/audit"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

const (
	maxBodyBytes   = 1 << 20
	adminKeyHeader = "X-Admin-Key"
)

// браузерный WebSocket не умеет слать заголовки, поэтому ключ для /ws/sync
// допускается в query.
const wsKeyQueryParam = "key"

// SyncRunner запускает прогон синхронизации.
type SyncRunner interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Summary, error)
}

// LogLister читает журнал синхронизации.
type LogLister interface {
	List(ctx context.Context, filter domain.LogFilter) (domain.LogPage, error)
}

// Server собирает обработчики административного API.
type Server struct {
	runner SyncRunner
	logs   LogLister
	keys   *adminapi.KeySet
	live   http.Handler
	logger *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithLiveUpdates подключает обработчик /ws/sync.
func WithLiveUpdates(h http.Handler) Option {
	return func(s *Server) {
		s.live = h
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer конструирует сервер.
func NewServer(runner SyncRunner, logs LogLister, keys *adminapi.KeySet, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		logs:   logs,
		keys:   keys,
		logger: log.New().WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler возвращает chi-роутер со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/provider-sync", s.handleSync)
		r.Get("/provider-order-logs", s.handleLogs)
	})

	if s.live != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Method(http.MethodGet, "/ws/sync", s.live)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, adminapi.ErrorEnvelope("not found", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, adminapi.ErrorEnvelope("method not allowed", nil))
	})

	return r
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req adminapi.SyncRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeJSON(w, http.StatusBadRequest, adminapi.ErrorEnvelope(msg, nil))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, adminapi.ErrorEnvelope(err.Error(), adminapi.FieldErrors(err)))
		return
	}

	summary, err := s.runner.Run(r.Context(), req.RunRequest())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSyncRequest) {
			writeJSON(w, http.StatusBadRequest, adminapi.ErrorEnvelope(err.Error(), nil))
			return
		}
		s.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("sync run failed")
		writeJSON(w, http.StatusInternalServerError, adminapi.ErrorEnvelope("sync run failed", nil))
		return
	}

	writeJSON(w, http.StatusOK, adminapi.SyncEnvelope(summary))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q, err := adminapi.ParseLogQuery(r.URL.Query().Get)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, adminapi.ErrorEnvelope(err.Error(), adminapi.FieldErrors(err)))
		return
	}

	page, err := s.logs.List(r.Context(), q.Filter())
	if err != nil {
		if errors.Is(err, audit.ErrInvalidFilter) {
			writeJSON(w, http.StatusBadRequest, adminapi.ErrorEnvelope(err.Error(), nil))
			return
		}
		s.logger.WithError(err).Error("failed to list sync logs")
		writeJSON(w, http.StatusInternalServerError, adminapi.ErrorEnvelope("failed to list sync logs", nil))
		return
	}

	writeJSON(w, http.StatusOK, adminapi.LogsEnvelope(page))
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := adminapi.ExtractKey(r.Header.Get("Authorization"), r.Header.Get(adminKeyHeader))
		if key == "" && r.Header.Get("Upgrade") != "" {
			key = r.URL.Query().Get(wsKeyQueryParam)
		}
		if err := s.keys.Verify(key); err != nil {
			writeJSON(w, http.StatusUnauthorized, adminapi.ErrorEnvelope("unauthorized", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.logger.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
