package httpapi

import (
	"net/http"
	"time"

	"callkit-bridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients are native apps and authenticate with a bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream upgrades to a websocket and relays bridge events as JSON frames
// until the client goes away or the hub closes.
func (h Handlers) Stream(c *gin.Context) {
	if h.Hub == nil {
		abortError(c, http.StatusInternalServerError, "internal", "event hub not configured")
		return
	}
	log := logger.FromGin(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Hub.Subscribe()
	defer cancel()
	log.Info("event stream connected", "subscribers", h.Hub.Subscribers())

	// Drain incoming frames so control messages are processed; a read error
	// means the client is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-gone:
			log.Info("event stream disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Warn("event stream write failed", "err", err)
				return
			}
		}
	}
}
