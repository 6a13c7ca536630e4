package stream

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const writeTimeout = 5 * time.Second

// RegisterRoutes exposes the per-session subscriber socket. Frames flow one
// way, host to UI; inbound reads only watch for the close handshake.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:sessionID", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		client := hub.Register(sessionID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				c.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			// Send drained and closed: finish the close handshake cleanly.
			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}

		// Unregister closes Send, which releases the writer.
		hub.Unregister(client)
		<-done
	}))
}
