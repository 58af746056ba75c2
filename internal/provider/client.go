package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

const (
	// maxResponseBytes ограничивает размер читаемого ответа провайдера.
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes — сколько тела ответа сохраняется в FetchError.
	maxErrorBodyBytes = 4 << 10
)

// FetchError — провайдер ответил кодом вне диапазона 2xx.
type FetchError struct {
	ProviderID string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s responded with status %d", e.ProviderID, e.StatusCode)
}

// IsFetchError проверяет, что ошибка вызвана HTTP-статусом провайдера.
func IsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Client выполняет запросы к провайдерам. Один Client используется всеми прогонами,
// состояние прогона живёт в Session.
type Client struct {
	httpClient *http.Client
	catalog    *Catalog
	logger     *log.Entry
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithHTTPClient подменяет HTTP-клиент (используется в тестах).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient создаёт клиент поверх каталога описаний.
func NewClient(catalog *Catalog, opts ...ClientOption) *Client {
	if catalog == nil {
		catalog = NewCatalog()
	}
	c := &Client{
		// таймаут задаётся на каждый запрос через контекст
		httpClient: &http.Client{},
		catalog:    catalog,
		logger:     log.New().WithField("component", "provider-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSession открывает состояние одного прогона: кеш описаний и лимитеры провайдеров.
func (c *Client) NewSession() *Session {
	return &Session{
		client:   c,
		specs:    make(map[string]Spec),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Session не разделяется между прогонами.
type Session struct {
	client *Client

	mu       sync.Mutex
	specs    map[string]Spec
	limiters map[string]*rate.Limiter
}

func (s *Session) resolve(providerID string) (Spec, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[providerID]
	if !ok {
		spec = s.client.catalog.Resolve(providerID)
		s.specs[providerID] = spec
		if spec.RateLimit.PerSecond > 0 {
			burst := spec.RateLimit.Burst
			if burst <= 0 {
				burst = 1
			}
			s.limiters[providerID] = rate.NewLimiter(rate.Limit(spec.RateLimit.PerSecond), burst)
		}
	}
	return spec, s.limiters[providerID]
}

// FetchStatus запрашивает статус заказа у провайдера. Повторов нет: ошибка возвращается
// вызывающему, который решает, что с ней делать. Result.Raw заполнен, если ответ был получен.
func (s *Session) FetchStatus(ctx context.Context, p domain.Provider, order domain.Order) (StatusResult, error) {
	remoteID, ok := order.RemoteID()
	if !ok {
		return StatusResult{}, domain.ErrInvalidProviderOrderID
	}
	spec, limiter := s.resolve(p.ID)

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return StatusResult{}, fmt.Errorf("provider %s rate limit: %w", p.ID, err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	req, err := BuildRequest(reqCtx, spec, p, remoteID, order.Service.ProviderServiceID)
	if err != nil {
		return StatusResult{}, err
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return StatusResult{}, fmt.Errorf("provider %s request: %w", p.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return StatusResult{}, fmt.Errorf("provider %s read body: %w", p.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := body
		if len(errBody) > maxErrorBodyBytes {
			errBody = errBody[:maxErrorBodyBytes]
		}
		s.client.logger.WithFields(log.Fields{
			"provider_id": p.ID,
			"order_id":    order.ID,
			"status_code": resp.StatusCode,
		}).Warn("provider responded with non-success status")
		return StatusResult{Raw: string(body)}, &FetchError{ProviderID: p.ID, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	result, err := ParseResponse(body, remoteID, spec.Response)
	if err != nil {
		return result, fmt.Errorf("provider %s: %w", p.ID, err)
	}
	return result, nil
}
