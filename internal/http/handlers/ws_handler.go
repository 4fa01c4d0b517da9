// README: WebSocket session handler; streams fan-out events to one client.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"foodrun/internal/http/middleware"
	"foodrun/internal/modules/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type WSHandler struct {
	broker   *notify.Broker
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(broker *notify.Broker, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and holds a subscription for the caller until
// the socket closes.
func (h *WSHandler) Serve(c *gin.Context) {
	actor := middleware.CallerActor(c)
	if actor.Role == "" {
		writeError(c, http.StatusForbidden, "unknown role")
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := h.broker.Subscribe(actor)
	log := h.log.WithFields(logrus.Fields{"subscriber": sub.ID(), "actor_id": actor.ID, "role": actor.Role})
	log.Info("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(conn)
	}()

	writePump(conn, sub, done, log)
	sub.Close()
	_ = conn.Close()
	<-done
	log.Info("websocket disconnected")
}

// readPump only services control frames; clients never send data.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *notify.Subscription, done <-chan struct{}, log *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
			sub.AddCredits(1)

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
