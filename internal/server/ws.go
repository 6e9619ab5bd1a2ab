package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// subscriberBuffer is the per-connection event backlog; events beyond it
	// are dropped for that connection.
	subscriberBuffer = 256
	pingInterval     = 10 * time.Second
	writeWait        = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from another origin in development.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWatch streams change events as JSON text frames. The optional su and
// process query parameters filter the feed; bootstrap events always pass.
func (s *Server) handleWatch(c *gin.Context) {
	unit, process := c.Query("su"), c.Query("process")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	id := uuid.NewString()
	log := s.logger.With("watcher", id, "su", unit, "process", process)
	log.Info("watcher connected")
	defer log.Info("watcher disconnected")

	events, cancel := s.engine.Subscribe(subscriberBuffer)
	defer cancel()

	// The reader only notices the peer closing; watchers send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Matches(unit, process) {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
