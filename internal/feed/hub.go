// Package feed streams experiment events to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Event types published by the session.
const (
	EventSnapshot = "snapshot"
	EventDecision = "decision"
	EventReset    = "reset"
	EventRejected = "rejected"
)

// Event is the message sent to subscribers.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// client serialises writes; gorilla connections allow one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// #region hub
// Hub fans events out to connected websocket clients. The most recent event
// is replayed to new subscribers.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	maxClients int

	events chan Event
	stop   chan struct{}
	once   sync.Once

	clientsMutex sync.RWMutex
	clients      map[*client]bool
	pending      int // slots held by upgrades in flight

	lastMutex sync.Mutex
	last      []byte
}

// NewHub creates a hub. Call Run to start broadcasting.
func NewHub(log *slog.Logger, maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 100
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxClients: maxClients,
		events:     make(chan Event, 100),
		stop:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Publish queues an event. It never blocks; events are dropped when the
// queue is full.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Time: time.Now().UTC(), Data: data}
	select {
	case h.events <- ev:
	default:
		h.log.Warn("feed queue full, dropping event", "type", eventType)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Run broadcasts queued events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.once.Do(func() { close(h.stop) })
	for {
		select {
		case ev := <-h.events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("marshal feed event", "type", ev.Type, "err", err)
				continue
			}
			h.lastMutex.Lock()
			h.last = data
			h.lastMutex.Unlock()
			h.broadcast(data)
		case <-ctx.Done():
			return
		}
	}
}

// #endregion hub

// #region websocket
// ServeHTTP upgrades the request and keeps the connection alive with pings
// until the client leaves or the hub stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.reserve() {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.release(nil)
		h.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.release(c)
	defer func() {
		h.clientsMutex.Lock()
		delete(h.clients, c)
		h.clientsMutex.Unlock()
	}()

	h.lastMutex.Lock()
	last := h.last
	h.lastMutex.Unlock()
	if last != nil {
		if err := c.write(websocket.TextMessage, last); err != nil {
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// reads are required to notice disconnects
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Debug("websocket read", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-h.stop:
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// reserve claims a slot for a connection about to be upgraded.
func (h *Hub) reserve() bool {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	if len(h.clients)+h.pending >= h.maxClients {
		return false
	}
	h.pending++
	return true
}

// release turns a reserved slot into a registered client, or frees it when c
// is nil.
func (h *Hub) release(c *client) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	h.pending--
	if c != nil {
		h.clients[c] = true
	}
}

func (h *Hub) broadcast(data []byte) {
	h.clientsMutex.RLock()
	if len(h.clients) == 0 {
		h.clientsMutex.RUnlock()
		return
	}
	clientsCopy := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clientsCopy = append(clientsCopy, c)
	}
	h.clientsMutex.RUnlock()

	var failed []*client
	for _, c := range clientsCopy {
		if err := c.write(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		h.clientsMutex.Lock()
		for _, c := range failed {
			delete(h.clients, c)
		}
		h.clientsMutex.Unlock()
	}
}

// #endregion websocket
