package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hybridci/internal/pipeline"
)

const (
	writeWait     = 10 * time.Second
	clientBacklog = 16
)

// Event is one message on the /ws feed.
type Event struct {
	Type   string           `json:"type"`
	Source string           `json:"source"`
	RunID  string           `json:"run_id,omitempty"`
	Result *pipeline.Result `json:"result"`
}

// Hub fans run events out to websocket clients. A client that falls
// behind by more than clientBacklog events misses the overflow.
type Hub struct {
	mu       sync.Mutex
	clients  map[chan []byte]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// PublishRun sends a run result to every connected client.
func (h *Hub) PublishRun(source, runID string, res *pipeline.Result) {
	h.Publish(Event{Type: "run", Source: source, RunID: runID, Result: res})
}

// Publish sends ev to every connected client without blocking.
func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encoding event", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Warn("dropping event for slow websocket client")
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, clientBacklog)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away. Messages from the client are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("websocket write failed", "err", err)
				return
			}
		case <-done:
			return
		}
	}
}
