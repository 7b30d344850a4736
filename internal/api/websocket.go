package api

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fax-hunt/internal/protocol"
)

// HubConfig tunes the realtime hub.
type HubConfig struct {
	MaxConnectionsTotal int
	MaxConnectionsPerIP int
	SendQueue           int // per-connection buffered events
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	// PublishTimeout bounds how long Publish waits on a full hub for events
	// other than position ticks.
	PublishTimeout   time.Duration
	AllowClientReset bool
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxConnectionsTotal: 500,
		MaxConnectionsPerIP: 10,
		SendQueue:           64,
		PingInterval:        30 * time.Second,
		WriteTimeout:        5 * time.Second,
		PublishTimeout:      250 * time.Millisecond,
	}
}

const maxClientMessage = 512

// wsClient is one realtime connection. send is owned by the hub loop: only
// the hub writes to or closes it.
type wsClient struct {
	conn  *websocket.Conn
	ip    string
	codec protocol.Codec
	send  chan []byte
}

// WebSocketHub fans session events out to every realtime connection. A single
// goroutine (Run) owns the client set; every client has its own queue and
// write pump so a slow reader only loses its own messages.
type WebSocketHub struct {
	cfg        HubConfig
	clients    map[*wsClient]struct{}
	broadcast  chan protocol.Event
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	count      atomic.Int64

	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter

	// initial returns the events pushed to a new connection before any
	// broadcast, typically the current target position.
	initial func() []protocol.Event
	// reset handles a client resetGame request.
	reset func(ctx context.Context) (bool, error)
}

// NewWebSocketHub creates a hub. initial and reset may be nil.
func NewWebSocketHub(cfg HubConfig, origins *OriginChecker, initial func() []protocol.Event, reset func(context.Context) (bool, error)) *WebSocketHub {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultHubConfig().SendQueue
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultHubConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultHubConfig().WriteTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultHubConfig().PublishTimeout
	}
	if origins == nil {
		origins = NewOriginChecker(nil)
	}

	h := &WebSocketHub{
		cfg:        cfg,
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan protocol.Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(cfg.MaxConnectionsPerIP),
		initial:    initial,
		reset:      reset,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run owns the client set until ctx is cancelled.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			UpdateWSConnections(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.initial != nil {
				for _, ev := range h.initial() {
					h.enqueue(c, h.encode(c.codec, ev, nil))
				}
			}
			log.Printf("📱 Client connected from %s (%d total)", c.ip, len(h.clients))
			UpdateWSConnections(len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Printf("📱 Client disconnected (%d remaining)", len(h.clients))
				UpdateWSConnections(len(h.clients))
			}

		case ev := <-h.broadcast:
			frames := make(map[protocol.Codec][]byte, 2)
			for c := range h.clients {
				h.enqueue(c, h.encode(c.codec, ev, frames))
			}
			IncrementWSMessages()
		}
	}
}

// Publish queues ev for every connection. Position ticks are dropped when
// the hub is behind; the next tick supersedes them. Every other event waits
// up to PublishTimeout for room.
func (h *WebSocketHub) Publish(ev protocol.Event) {
	select {
	case h.broadcast <- ev:
		return
	default:
	}

	if _, ok := ev.(protocol.ObjectPosition); ok {
		IncrementWSDropped()
		return
	}

	timer := time.NewTimer(h.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case h.broadcast <- ev:
	case <-h.done:
	case <-timer.C:
		log.Printf("⚠️ Hub backlog full, dropped %s", ev.Kind())
		IncrementWSDropped()
	}
}

// ClientCount returns the number of open connections, including ones still
// being upgraded.
func (h *WebSocketHub) ClientCount() int {
	return int(h.count.Load())
}

// reserve claims a connection slot under the total cap.
func (h *WebSocketHub) reserve() bool {
	for {
		n := h.count.Load()
		if h.cfg.MaxConnectionsTotal > 0 && n >= int64(h.cfg.MaxConnectionsTotal) {
			return false
		}
		if h.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// encode frames ev once per codec and caches it in frames when non-nil.
func (h *WebSocketHub) encode(codec protocol.Codec, ev protocol.Event, frames map[protocol.Codec][]byte) []byte {
	if b, ok := frames[codec]; ok {
		return b
	}
	b, err := protocol.Encode(codec, ev)
	if err != nil {
		log.Printf("⚠️ Encoding %s failed: %v", ev.Kind(), err)
		return nil
	}
	if frames != nil {
		frames[codec] = b
	}
	return b
}

func (h *WebSocketHub) enqueue(c *wsClient, b []byte) {
	if b == nil {
		return
	}
	select {
	case c.send <- b:
	default:
		IncrementWSDropped()
	}
}

func (h *WebSocketHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.wsLimiter.Release(c.ip)
	h.count.Add(-1)
}

// HandleWebSocket upgrades the request and starts the connection's pumps.
// The codec is chosen with ?codec=json|msgpack.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	codec, err := protocol.ParseCodec(r.URL.Query().Get("codec"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.reserve() {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", h.cfg.MaxConnectionsTotal)
		RecordConnectionRejected("ws_total_limit")
		writeError(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		h.count.Add(-1)
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached (%d open)", ip, h.wsLimiter.GetConnectionCount(ip))
		RecordConnectionRejected("ws_ip_limit")
		writeError(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.count.Add(-1)
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{
		conn:  conn,
		ip:    ip,
		codec: codec,
		send:  make(chan []byte, h.cfg.SendQueue),
	}
	select {
	case h.register <- c:
	case <-h.done:
		h.count.Add(-1)
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// writePump drains the client's queue until the hub closes it.
func (h *WebSocketHub) writePump(c *wsClient) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(msgType, b); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client messages and unregisters the client on any read
// error, including the close caused by writePump exiting.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		kind, err := protocol.DecodeType(c.codec, message)
		if err != nil {
			continue
		}
		if kind == protocol.KindResetGame {
			h.handleClientReset(c)
		}
	}
}

func (h *WebSocketHub) handleClientReset(c *wsClient) {
	if !h.cfg.AllowClientReset || h.reset == nil {
		log.Printf("🚫 resetGame from %s ignored (client reset disabled)", c.ip)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := h.reset(ctx)
	switch {
	case err != nil:
		log.Printf("⚠️ Client reset from %s failed: %v", c.ip, err)
	case ok:
		log.Printf("🔄 Game reset requested by %s", c.ip)
	}
}
