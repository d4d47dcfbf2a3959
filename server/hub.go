package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/brandonshearin/notebookd/message"
)

// Hub is the WebSocket client registry and broadcast fan-out (spec
// section 4.4's "Broadcast"). It is grounded on the reference pack's
// gorilla/websocket hub (register/unregister/broadcast, readPump /
// writePump per client, bounded send buffer, periodic ping), adapted
// from a ticker-driven snapshot broadcast into a message-driven one:
// every response dispatched on the response pipeline is fanned out as
// it arrives instead of on a fixed interval.
type Hub struct {
	logger *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendBufSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger *logrus.Entry) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// Broadcast serializes m to JSON and writes it to every connected
// client. A write failure (or a full send buffer, meaning a slow or
// dead client) must not prevent delivery to the others, so Broadcast
// takes a read-locked snapshot of the client set before iterating,
// tolerating concurrent register/unregister, and drops the message for
// any client whose buffer is full instead of blocking.
func (h *Hub) Broadcast(m message.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.WithError(err).Warn("broadcast: failed to encode message")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("broadcast: dropping message for slow client")
		}
	}
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP connection to a WebSocket and pumps it
// until the client disconnects. Each accepted message is submitted to
// the request pipeline via submit.
func (h *Hub) ServeWS(submit func(message.Message), w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader already wrote the error response
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)

	go c.writePump()
	c.readPump(submit, h.logger)

	h.unregister(c)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(submit func(message.Message), logger *logrus.Entry) {
	defer c.conn.Close()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return // connection closed; transport removes the client
		}

		var m message.Message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.WithError(err).Warn("dropping unparseable client message")
			continue // client protocol error: log and drop, connection stays open
		}
		submit(m)
	}
}
