package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/edulution-io/installer/internal/logger"
)

// WebsocketUpgrade rejects plain HTTP requests on websocket routes.
func WebsocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// StreamWS pushes live job output to a websocket client. Unlike the SSE
// stream there is no replay: a client connecting mid-job only sees events
// published after it subscribed. Text frames received from the client are
// forwarded to the running job's stdin.
func (h *JobHandler) StreamWS() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		h.broadcaster.Subscribe(conn)
		defer h.broadcaster.Unsubscribe(conn)

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			logger.Debugf("Forwarding %d bytes of websocket input to job", len(msg))
			h.ctrl.WriteInput(msg)
		}
	})
}
