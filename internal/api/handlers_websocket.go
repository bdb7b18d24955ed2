package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cewlabs/cew/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The facade binds to loopback by default; origin policy is a
		// deployment concern.
		return true
	},
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// handleMonitorLab upgrades the connection and streams the lab's monitoring
// snapshots until the client disconnects or the lab's publisher retires.
func (s *Server) handleMonitorLab(c echo.Context) error {
	labID := c.Param("id")

	sub, err := s.orch.Broadcaster().Subscribe(labID)
	if err != nil {
		return fromCoreError(err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.orch.Broadcaster().Unsubscribe(sub)
		log.Printf("WebSocket upgrade error: %v", err)
		return err
	}

	done := make(chan struct{})
	go s.readPump(ws, done)
	go s.writePump(ws, sub, done)

	return nil
}

// readPump drains the connection to detect disconnects; clients are not
// expected to send anything.
func (s *Server) readPump(ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump forwards snapshots from the subscription to the peer as JSON,
// pinging to keep the connection alive. It unsubscribes and closes the
// connection on the way out.
func (s *Server) writePump(ws *websocket.Conn, sub *orchestrator.Subscription, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.orch.Broadcaster().Unsubscribe(sub)
		_ = ws.Close()
	}()

	for {
		select {
		case snap, ok := <-sub.Snapshots():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteJSON
			if !ok {
				// Publisher retired: the lab stopped.
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "lab stopped")) //nolint:errcheck // Connection is closing
				return
			}
			if err := ws.WriteJSON(snap); err != nil {
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteMessage
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
