package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// wsSink delivers subscriber messages over a websocket connection. Send is
// called only from the subscriber's writer goroutine. Close may run while a
// Send is blocked: gorilla allows WriteControl and Close concurrently with
// the writer, and closing the connection unblocks it.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	return s.conn.Close()
}

// handleSubscribe upgrades the request and adds the connection to the
// camera's subscriber set until the client goes away. Inbound frames are
// read only to notice disconnects.
func (s *Server) handleSubscribe(c *gin.Context) {
	cameraID := c.Param("camera_id")
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Subscriptions not available"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.LogDebug("Websocket upgrade failed", "camera_id", cameraID, "error", err)
		return
	}

	sink := &wsSink{conn: conn}
	sub, err := s.registry.Join(cameraID, sink)
	if err != nil {
		s.LogWarn("Subscriber rejected", "camera_id", cameraID, "error", err)
		sink.Close()
		return
	}
	defer s.registry.Leave(sub)

	conn.SetReadLimit(4096)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.LogDebug("Subscriber connection closed", "camera_id", cameraID, "subscriber_id", sub.ID, "error", err)
			}
			return
		}
	}
}
