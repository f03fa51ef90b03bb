package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope wraps the messages sent on the websocket.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsConnect upgrades the connection and streams resolved-state updates for
// one entity until the client disconnects.
func (s *Server) wsConnect(c *gin.Context) {
	entity := c.Param("entity")
	if _, err := s.scheduler.ResolvedState(entity, s.now()); err != nil {
		s.error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// reader goroutine handles control frames and detects disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := s.scheduler.States().Subscribe()
	defer s.scheduler.States().Unsubscribe(updates)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// initial snapshot
	if err = s.sendState(conn, entity); err != nil {
		s.logger.Debug("websocket initial write failed", slog.Any("err", err))
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case update := <-updates:
			if update.Entity != entity {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = conn.WriteJSON(wsEnvelope{Type: "state", Data: makeAttributes(entity, update.State, nil)}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendState(conn *websocket.Conn, entity string) error {
	state, err := s.scheduler.ResolvedState(entity, s.now())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: "state", Data: makeAttributes(entity, state, nil)})
}
