package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

func dialHub(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHubDeliversEventsToSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := dialHub(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	event := ProgressEvent(domain.ProgressEvent{RunID: "run-9", Total: 4, Processed: 1, Synced: 1})
	require.NoError(t, hub.Deliver(context.Background(), event))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type    string               `json:"type"`
		Payload domain.ProgressEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "sync.progress", got.Type)
	assert.Equal(t, "run-9", got.Payload.RunID)
	assert.Equal(t, 4, got.Payload.Total)
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(WithAllowedOrigins([]string{"https://panel.example"}))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := dialHub(t, srv, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialHub(t, srv, "https://panel.example")
	require.NoError(t, err)
	conn.Close()
}

func TestHubConnectionLimit(t *testing.T) {
	hub := NewHub(WithMaxConnections(1))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	first, _, err := dialHub(t, srv, "")
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := dialHub(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := dialHub(t, srv, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
