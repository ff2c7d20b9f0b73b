package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/position-grid/internal/metrics"
	"github.com/atmx/position-grid/internal/submit"
)

// Message types sent over the socket.
const (
	MessageProgress = "progress"
	MessageSummary  = "summary"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type        string          `json:"type"`
	Coordinator string          `json:"coordinator"` // "updates" or "imports"
	RunID       string          `json:"run_id"`
	Current     int             `json:"current,omitempty"`
	Total       int             `json:"total,omitempty"`
	Key         string          `json:"key,omitempty"`
	Status      submit.Status   `json:"status,omitempty"`
	Summary     *submit.Summary `json:"summary,omitempty"`
}

// frame is an encoded message plus the coordinator it belongs to.
type frame struct {
	coordinator string
	data        []byte
}

// subscriber is a connected client. An empty coordinator receives events
// from both coordinators.
type subscriber struct {
	conn        *websocket.Conn
	coordinator string
}

func (s subscriber) wants(coordinator string) bool {
	return s.coordinator == "" || s.coordinator == coordinator
}

// WSHub fans submission progress out to connected clients. Each client may
// narrow its feed to one coordinator with ?coordinator=updates|imports.
type WSHub struct {
	subs       map[*websocket.Conn]subscriber
	frames     chan frame
	register   chan subscriber
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Call Run in its own goroutine before serving.
func NewWSHub() *WSHub {
	return &WSHub{
		subs:       make(map[*websocket.Conn]subscriber),
		frames:     make(chan frame, 256),
		register:   make(chan subscriber),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub's event loop.
func (h *WSHub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subs[sub.conn] = sub
			total := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client subscribed", "coordinator", sub.coordinator, "total", total)

		case conn := <-h.unregister:
			h.remove(conn)

		case f := <-h.frames:
			h.deliver(f)
		}
	}
}

func (h *WSHub) deliver(f frame) {
	h.mu.RLock()
	var dead []*websocket.Conn
	for conn, sub := range h.subs {
		if !sub.wants(f.coordinator) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range dead {
		h.remove(conn)
	}
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		conn.Close()
	}
	total := len(h.subs)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
}

// Clients reports how many sockets are subscribed.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues msg for every client subscribed to its coordinator.
// It never blocks: when the queue is full the message is dropped so a slow
// client cannot stall a submission run.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws encode failed", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.frames <- frame{coordinator: msg.Coordinator, data: data}:
	default:
		metrics.WebSocketDropped.Inc()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS is handled by the router.
	},
}

// HandleWS handles GET /api/v1/ws[?coordinator=updates|imports].
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	coordinator := r.URL.Query().Get("coordinator")
	switch coordinator {
	case "", coordinatorUpdates, coordinatorImports:
	default:
		writeError(w, "coordinator must be updates or imports", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	h.register <- subscriber{conn: conn, coordinator: coordinator}

	// Clients only send pongs; reading drives the pong handler and notices
	// disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go h.ping(conn)
}

// ping keeps conn alive through proxies until it is unsubscribed.
func (h *WSHub) ping(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.RLock()
		_, ok := h.subs[conn]
		h.mu.RUnlock()
		if !ok {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}
