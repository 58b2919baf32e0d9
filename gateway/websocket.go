package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/capiware/capi-orchestrator/event"
	"github.com/capiware/capi-orchestrator/log"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced at the HTTP layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSubscriber wraps one WebSocket connection as a gateway subscriber.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes one event as a JSON text frame.
func (s *wsSubscriber) Send(evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(evt)
}

// Close closes the underlying connection.
func (s *wsSubscriber) Close() {
	s.conn.Close()
}

// WebSocketHandler upgrades GET /ws/{session_id} requests and streams
// the session's events until the client goes away.
func WebSocketHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["session_id"]
		if sessionID == "" {
			http.Error(w, "session_id required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("gateway: websocket upgrade failed: %v", err)
			return
		}
		sub := &wsSubscriber{conn: conn}
		g.Register(sessionID, sub)
		defer g.Unregister(sessionID, sub)

		// Drain client frames to observe close; inbound data is ignored.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
