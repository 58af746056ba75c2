package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/adminapi"
	"github.com/vladislavdragonenkov/smmsync/internal/broadcast"
	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/audit"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
	"github.com/vladislavdragonenkov/smmsync/internal/storage/memory"
	"github.com/vladislavdragonenkov/smmsync/internal/transport/httpapi"
)

const adminKey = "secret-key"

type stubRunner struct {
	mu       sync.Mutex
	requests []reconcile.Request
	summary  reconcile.Summary
	err      error
}

func (s *stubRunner) Run(_ context.Context, req reconcile.Request) (reconcile.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.summary, s.err
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T, runner httpapi.SyncRunner, logs httpapi.LogLister, opts ...httpapi.Option) *httptest.Server {
	t.Helper()
	opts = append(opts, httpapi.WithLogger(quietLogger()))
	srv := httptest.NewServer(httpapi.NewServer(runner, logs, adminapi.NewKeySet(adminKey), opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, adminapi.Envelope, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))

	var env adminapi.Envelope
	_ = json.Unmarshal(raw["success"], &env.Success)
	_ = json.Unmarshal(raw["message"], &env.Message)
	return resp, env, raw
}

func bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminKey}
}

func TestProviderSync_Success(t *testing.T) {
	runner := &stubRunner{summary: reconcile.Summary{
		SyncedCount:    2,
		TotalProcessed: 3,
		TotalChecked:   4,
		SkippedCount:   1,
		Results:        []reconcile.Result{{OrderID: "o1", Updated: true}},
	}}
	srv := newTestServer(t, runner, memory.NewStore().AuditLogs())

	resp, env, raw := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync",
		`{"orderIds":["o1","o2"],"providerId":"prov-a","timeBudgetSeconds":30,"maxOrders":20}`, bearer())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.True(t, env.Success)
	assert.Equal(t, "synced 2 of 3 processed orders", env.Message)

	var data reconcile.Summary
	require.NoError(t, json.Unmarshal(raw["data"], &data))
	assert.Equal(t, 4, data.TotalChecked)
	assert.Len(t, data.Results, 1)

	require.Len(t, runner.requests, 1)
	got := runner.requests[0]
	assert.Equal(t, []string{"o1", "o2"}, got.OrderIDs)
	assert.Equal(t, 30*time.Second, got.TimeBudget)
	assert.Equal(t, 20, got.MaxOrders)
}

func TestProviderSync_Auth(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner, memory.NewStore().AuditLogs())
	body := `{"syncAll":true}`

	for name, headers := range map[string]map[string]string{
		"missing":      nil,
		"wrong bearer": {"Authorization": "Bearer nope"},
		"basic":        {"Authorization": "Basic " + adminKey},
		"wrong header": {"X-Admin-Key": "nope"},
	} {
		resp, env, _ := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", body, headers)
		if resp.StatusCode != http.StatusUnauthorized || env.Success {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
	}
	assert.Empty(t, runner.requests)

	resp, _, _ := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", body, map[string]string{"X-Admin-Key": adminKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, runner.requests[0].SyncAll)
}

func TestProviderSync_BadRequest(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner, memory.NewStore().AuditLogs())

	for name, body := range map[string]string{
		"empty body":   "",
		"bad json":     "{",
		"no ids":       `{"orderIds":[]}`,
		"wrong type":   `{"orderIds":"o1"}`,
		"budget limit": `{"syncAll":true,"timeBudgetSeconds":9999}`,
	} {
		resp, env, _ := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", body, bearer())
		if resp.StatusCode != http.StatusBadRequest || env.Success {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
	assert.Empty(t, runner.requests)

	_, _, raw := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", `{"syncAll":true,"maxOrders":-5}`, bearer())
	assert.JSONEq(t, `{"MaxOrders":"gte"}`, string(raw["errors"]))
}

func TestProviderSync_RunErrors(t *testing.T) {
	runner := &stubRunner{err: errors.New("connection refused")}
	srv := newTestServer(t, runner, memory.NewStore().AuditLogs())

	resp, env, _ := doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", `{"syncAll":true}`, bearer())
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "sync run failed", env.Message)

	runner.err = domain.ErrInvalidSyncRequest
	resp, _, _ = doRequest(t, http.MethodPost, srv.URL+"/api/admin/provider-sync", `{"syncAll":true}`, bearer())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderOrderLogs(t *testing.T) {
	store := memory.NewStore()
	auditLog := audit.NewLogger(store.AuditLogs())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		auditLog.Record(ctx, audit.Entry{OrderID: "o1", ProviderID: "prov-a", Action: domain.SyncActionManual, Status: domain.LogStatusSuccess})
	}
	auditLog.Record(ctx, audit.Entry{OrderID: "o2", ProviderID: "prov-b", Action: domain.SyncActionBulk, Status: domain.LogStatusFailed, Err: errors.New("timeout")})

	srv := newTestServer(t, &stubRunner{}, auditLog)

	resp, env, raw := doRequest(t, http.MethodGet, srv.URL+"/api/admin/provider-order-logs?orderId=o1&limit=2&page=1", "", bearer())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	var data adminapi.LogsData
	require.NoError(t, json.Unmarshal(raw["data"], &data))
	assert.Len(t, data.Logs, 2)
	assert.Equal(t, adminapi.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, data.Pagination)

	resp, _, _ = doRequest(t, http.MethodGet, srv.URL+"/api/admin/provider-order-logs?status=unknown", "", bearer())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _, _ = doRequest(t, http.MethodGet, srv.URL+"/api/admin/provider-order-logs?limit=abc", "", bearer())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _, _ = doRequest(t, http.MethodGet, srv.URL+"/api/admin/provider-order-logs", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, memory.NewStore().AuditLogs())

	resp, _, _ := doRequest(t, http.MethodGet, srv.URL+"/api/admin/provider-sync", "", bearer())
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _, _ = doRequest(t, http.MethodGet, srv.URL+"/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _, _ = doRequest(t, http.MethodGet, srv.URL+"/ws/sync", "", bearer())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveUpdates(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithHubLogger(quietLogger()))
	t.Cleanup(hub.Close)
	srv := newTestServer(t, &stubRunner{}, memory.NewStore().AuditLogs(), httpapi.WithLiveUpdates(hub))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sync"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?key="+adminKey, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Deliver(context.Background(), broadcast.OrderUpdateEvent(domain.OrderUpdateEvent{OrderID: "o1", Status: domain.OrderStatusCompleted})))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "order.updated", event.Type)
	assert.Contains(t, string(event.Payload), "o1")
}
