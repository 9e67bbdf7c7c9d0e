package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomctl/loom-agent/internal/driver"
)

// wsMessage mirrors one driver.Event for the stream client, matching the
// teacher's WSMessage shape (type/content/tool/error/timestamp) adapted
// to this package's Event union.
type wsMessage struct {
	Type      string `json:"type"` // text | turn | error | done | heartbeat
	Content   string `json:"content,omitempty"`
	Turn      any    `json:"turn,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream serves GET /api/v1/stream/{conversation_id}, forwarding
// live driver.Event updates for that conversation as they are published
// (spec.md §6 expansion). Purely observational: it mirrors turns already
// reachable via GET /api/v1/conversations/{id} and carries no operation
// not already in the REST surface.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimPrefix(r.URL.Path, "/api/v1/stream/")
	if conversationID == "" {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("loom-agent: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.driver.Subscribe(conversationID)
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			msg := toWSMessage(ev)
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if ev.Done || ev.Err != nil {
				return
			}
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wsMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func toWSMessage(ev driver.Event) wsMessage {
	now := time.Now().UTC()
	switch {
	case ev.Err != nil:
		return wsMessage{Type: "error", Error: ev.Err.Error(), Timestamp: now}
	case ev.Done:
		return wsMessage{Type: "done", Timestamp: now}
	case ev.Turn != nil:
		return wsMessage{Type: "turn", Turn: ev.Turn, Timestamp: now}
	default:
		return wsMessage{Type: "text", Content: ev.TextToken, Timestamp: now}
	}
}
