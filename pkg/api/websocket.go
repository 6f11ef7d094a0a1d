package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"vibe-report/pkg/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg WebSocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// WebSocketHandler streams session events. Clients may send "ping" and
// "snapshot"; everything else is answered with an error message.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	log := h.logger.With(zap.String("session_id", s.ID()))
	log.Info("websocket connected")

	if err := ws.send(WebSocketMessage{
		Type:      string(session.EventState),
		SessionID: s.ID(),
		Data:      rawJSON(s.Snapshot()),
	}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(ws, s)
	}()

	for {
		select {
		case <-done:
			log.Info("websocket disconnected")
			return
		case e, ok := <-events:
			if !ok {
				ws.send(WebSocketMessage{Type: "closed", SessionID: s.ID()})
				return
			}
			if err := ws.send(WebSocketMessage{
				Type:      string(e.Type),
				SessionID: e.SessionID,
				Data:      rawJSON(e.Data),
				Timestamp: e.Time,
			}); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handlers) readLoop(ws *wsConn, s *session.Session) {
	for {
		var msg WebSocketMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			return
		}

		var err error
		switch msg.Type {
		case "ping":
			// Keeps the session from being swept while the client is idle.
			_, _ = h.sessions.Get(s.ID())
			err = ws.send(WebSocketMessage{Type: "pong", SessionID: s.ID()})
		case "snapshot":
			err = ws.send(WebSocketMessage{
				Type:      string(session.EventState),
				SessionID: s.ID(),
				Data:      rawJSON(s.Snapshot()),
			})
		default:
			err = ws.send(WebSocketMessage{
				Type:  "error",
				Error: "Unknown message type",
			})
		}
		if err != nil {
			return
		}
	}
}

func rawJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
