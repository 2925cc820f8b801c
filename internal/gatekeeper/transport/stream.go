package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// streamEvent is broadcast to every connected admin over /v0/stream
// whenever an API is indexed or removed.
type streamEvent struct {
	Event  string    `json:"event"` // indexed|removed
	APIID  string    `json:"api_id"`
	Tenant string    `json:"tenant"`
	At     time.Time `json:"at"`
}

// streamHub fans out streamEvent values to every connected websocket
// client. Slow or gone clients are dropped rather than allowed to block
// the rest of the hub.
type streamHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan streamEvent
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*websocket.Conn]chan streamEvent)}
}

func (h *streamHub) add(conn *websocket.Conn) chan streamEvent {
	ch := make(chan streamEvent, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *streamHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *streamHub) broadcast(ev streamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// client is too slow to keep up; drop it rather than stall the hub.
			close(ch)
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "transport: websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	ch := s.hub.add(conn)
	defer s.hub.remove(conn)

	// Drain client reads so a disconnect (or client-sent close frame) is
	// observed promptly; the admin stream is write-only otherwise.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
