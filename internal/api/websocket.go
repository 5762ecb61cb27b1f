package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"crewflow/backend/internal/hub"
)

const (
	// writeWait bounds a single websocket write so a wedged peer cannot
	// hold the pump goroutine forever.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are handled by the CORS middleware on the HTTP side;
	// the socket carries no credentials of its own.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleUpdates upgrades the connection and streams live events to the
// client. The first frame is always a connected greeting; after that the
// client receives every event published while it keeps up. A client that
// falls too far behind is disconnected.
// (GET /ws/updates)
func (s *Server) HandleUpdates(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	greeting := hub.Event{
		Type: hub.EventTypeConnected,
		Data: map[string]interface{}{
			"message": "Connected to execution updates",
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(greeting); err != nil {
		return nil
	}

	sub := s.Hub.Subscribe()
	defer sub.Close()

	s.Logger.Debug("websocket client connected from %s", c.RealIP())

	// The reader discards inbound frames; its only job is to notice the
	// peer going away so the pump below can stop.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Dropped by the hub for falling behind.
				s.Logger.Warn("websocket client %s dropped as slow consumer", c.RealIP())
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return nil
			}
		case <-readerDone:
			s.Logger.Debug("websocket client %s disconnected", c.RealIP())
			return nil
		}
	}
}
