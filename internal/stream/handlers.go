package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes the live stream. Possession of the share token is
// the only access control, matching the polling endpoint.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:token", websocket.New(func(c *websocket.Conn) {
		token := c.Params("token")
		client := hub.Register(token)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		<-done
	}))
}
