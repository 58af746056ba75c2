package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	defaultMaxConns  = 256
)

// wsClient — одно websocket-подключение.
type wsClient struct {
	id     string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newClient() *wsClient {
	return &wsClient{id: uuid.NewString(), send: make(chan []byte, clientSendBuffer)}
}

// offer кладёт сообщение без блокировки; false для медленного или закрытого клиента.
func (c *wsClient) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub держит websocket-подписчиков и рассылает им события.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	maxConns int
	origins  []string
	upgrader websocket.Upgrader
	logger   *log.Entry
}

// HubOption настраивает Hub.
type HubOption func(*Hub)

// WithAllowedOrigins задаёт белый список Origin. "*" разрешает любой.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) { h.origins = origins }
}

// WithMaxConnections ограничивает число одновременных подписчиков.
func WithMaxConnections(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxConns = n
		}
	}
}

// WithHubLogger задаёт логгер.
func WithHubLogger(logger *log.Entry) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub создаёт пустой Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:  make(map[*wsClient]struct{}),
		maxConns: defaultMaxConns,
		logger:   log.New().WithField("component", "ws-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Name реализует Sink.
func (h *Hub) Name() string { return "websocket" }

// Deliver рассылает событие всем подписчикам. Медленные клиенты отключаются.
func (h *Hub) Deliver(_ context.Context, event Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.offer(msg) {
			h.logger.WithField("client_id", c.id).Warn("websocket client is too slow, disconnecting")
			h.unregister(c)
		}
	}
	return nil
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close отключает всех клиентов.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.maxConns {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// не браузерный клиент
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := parsed.Scheme + "://" + parsed.Host
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == normalized {
			return true
		}
	}
	if len(h.origins) == 0 && parsed.Host == r.Host {
		return true
	}
	h.logger.WithFields(log.Fields{
		"origin":      origin,
		"remote_addr": r.RemoteAddr,
	}).Warn("websocket origin rejected")
	return false
}

// ServeHTTP поднимает websocket и держит его до отключения клиента.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxConns {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient()
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many subscribers"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.WithFields(log.Fields{
		"client_id":   client.id,
		"remote_addr": r.RemoteAddr,
	}).Info("websocket client connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		h.readPump(conn, client)
	}()
	wg.Wait()

	h.unregister(client)
	_ = conn.Close()
	h.logger.WithField("client_id", client.id).Info("websocket client disconnected")
}

func (h *Hub) writePump(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// разблокирует readPump
	defer conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump читает только служебные кадры; сообщения клиента игнорируются.
func (h *Hub) readPump(conn *websocket.Conn, c *wsClient) {
	defer h.unregister(c)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).WithField("client_id", c.id).Warn("websocket read error")
			}
			return
		}
	}
}

var _ Sink = (*Hub)(nil)
