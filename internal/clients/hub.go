// Package clients tracks the page connections a proxy controls. Pages
// connect over a websocket; the proxy claims them on activation, posts
// replies to them directly or broadcasts to all of them.
package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// MessageControllerChange is sent to every client on Claim.
const MessageControllerChange = "CONTROLLER_CHANGE"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ReplyFunc posts a message back to the sender.
type ReplyFunc func(msg any) error

// MessageHandler handles a raw client message. reply is nil when the
// sender did not ask for a direct reply.
type MessageHandler func(ctx context.Context, data []byte, reply ReplyFunc)

// envelope carries the routing flag of an incoming message.
type envelope struct {
	Reply bool `json:"reply"`
}

// Info describes a connected client.
type Info struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Controller  string    `json:"controller,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Client is one open page connection.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	mu         sync.Mutex
	controller string
	closed     bool
}

// Hub is the set of window clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	controller string
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// List describes every connected client.
func (h *Hub) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Info, 0, len(h.clients))
	for _, c := range h.clients {
		c.mu.Lock()
		out = append(out, Info{ID: c.id, Type: "window", Controller: c.controller, ConnectedAt: c.connectedAt})
		c.mu.Unlock()
	}
	return out
}

// Claim makes generation the controller of every connected client and of
// clients that connect later.
func (h *Hub) Claim(generation string) int {
	data, _ := json.Marshal(map[string]string{"type": MessageControllerChange, "generation": generation})

	h.mu.Lock()
	h.controller = generation
	clients := h.snapshotLocked()
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		c.controller = generation
		c.mu.Unlock()
		c.enqueue(data)
	}
	return len(clients)
}

// Broadcast sends msg as JSON to every connected client.
func (h *Hub) Broadcast(msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Warn("clients: encoding broadcast")
		return 0
	}
	h.mu.RLock()
	clients := h.snapshotLocked()
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(data)
	}
	return len(clients)
}

func (h *Hub) snapshotLocked() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	c.controller = h.controller
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// enqueue queues data for the write pump, dropping it when the client
// cannot keep up.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.WithField("client", c.id).Warn("clients: send buffer full, dropping message")
	}
}

// Handler upgrades the request to a websocket and serves the client until
// it disconnects. Every incoming message is passed to handle.
func (h *Hub) Handler(handle MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("clients: websocket upgrade")
			return
		}

		c := &Client{
			id:          uuid.New().String(),
			conn:        conn,
			send:        make(chan []byte, sendBuffer),
			connectedAt: time.Now().UTC(),
		}
		h.add(c)
		log.WithField("client", c.id).Debug("clients: connected")

		go c.writePump()
		c.readPump(r.Context(), h, handle)
	}
}

func (c *Client) readPump(ctx context.Context, h *Hub, handle MessageHandler) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		log.WithField("client", c.id).Debug("clients: disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("client", c.id).WithError(err).Warn("clients: websocket read")
			}
			return
		}

		var env envelope
		_ = json.Unmarshal(msg, &env)

		var reply ReplyFunc
		if env.Reply {
			reply = func(v any) error {
				data, err := json.Marshal(v)
				if err != nil {
					return err
				}
				c.enqueue(data)
				return nil
			}
		}
		handle(ctx, msg, reply)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithField("client", c.id).WithError(err).Warn("clients: websocket write")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
