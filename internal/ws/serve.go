package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// ServeWs upgrades the HTTP request to a websocket connection, registers the
// client and greets it with the welcome/capabilities frame.
func ServeWs(hub *Hub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogError(err, "websocket upgrade failed", "remote_addr", c.ClientIP())
		return
	}

	client := newClient(hub, conn, c.ClientIP())
	hub.register <- client

	client.sendFrame(welcomeFrame{
		Type:         "welcome",
		Message:      "Connected to the chat relay",
		ClientID:     client.ID,
		RequiresAuth: true,
		Timestamp:    time.Now(),
	})

	go client.WritePump()
	go client.ReadPump()
}
