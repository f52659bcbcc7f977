package pubsub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	maxReadSize = 4096
)

// InboundFunc handles one text frame sent by a WebSocket client. r is the
// upgrade request, so handlers can read values stored in its context. A
// non-nil error is sent back to that client alone as {"error": "..."}.
type InboundFunc func(r *http.Request, msg []byte) error

// ErrorFrame is written to a client whose frame was rejected.
type ErrorFrame struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS returns a handler that upgrades the request and forwards every
// message published on topic to the client. Client frames go to inbound,
// or are discarded when inbound is nil.
func (h *Hub) ServeWS(topic string, inbound InboundFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			h.log.WithError(err).WithField("topic", topic).Debug("websocket upgrade failed")
			return
		}

		sub, err := h.Subscribe(topic, DefaultBuffer)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		log := h.log.WithFields(logrus.Fields{"topic": topic, "remote": r.RemoteAddr})
		log.Debug("websocket client connected")

		done := make(chan struct{})
		replies := make(chan []byte, DefaultBuffer)
		go h.readPump(conn, r, inbound, replies, done)
		h.writePump(conn, sub, replies, done)

		sub.Close()
		conn.Close()
		log.Debug("websocket client disconnected")
	})
}

// readPump owns all reads on conn. It closes done when the client goes away.
func (h *Hub) readPump(conn *websocket.Conn, r *http.Request, inbound InboundFunc, replies chan<- []byte, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxReadSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("websocket read")
			}
			return
		}
		if kind != websocket.TextMessage || inbound == nil {
			continue
		}
		if err := inbound(r, msg); err != nil {
			frame, _ := json.Marshal(ErrorFrame{Error: err.Error()})
			select {
			case replies <- frame:
			default:
			}
		}
	}
}

// writePump owns all writes on conn until the subscription ends, a write
// fails or the reader reports the client gone.
func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription, replies <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
