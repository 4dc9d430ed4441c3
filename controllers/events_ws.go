package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"leadflow/events"
	"leadflow/utils"
)

// UpgradeEvents only lets websocket upgrade requests through.
func UpgradeEvents(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleEventsWS streams hub events (qualifications, tasks, nurturing
// dispatches) to a dashboard client until it disconnects.
func HandleEventsWS(hub *events.Hub) func(*websocket.Conn) {
	log := utils.Logger("events_ws")
	return func(c *websocket.Conn) {
		defer c.Close()

		feed, cancel := hub.Subscribe()
		defer cancel()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case e, ok := <-feed:
				if !ok {
					return
				}
				if err := c.WriteJSON(e); err != nil {
					log.WithError(err).Debug("event client gone")
					return
				}
			}
		}
	}
}
