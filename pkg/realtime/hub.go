package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/attendly/backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Push is the realtime frame delivered to a connected recipient.
type Push struct {
	Type      string    `json:"type"`
	ID        uuid.UUID `json:"id"`
	SenderID  uuid.UUID `json:"senderId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Hub tracks WebSocket connections per recipient and pushes frames to each
// recipient's open sockets. Delivery is best effort: the durable inbox row is
// the source of truth, a missed push is recovered on the next inbox fetch.
type Hub struct {
	mu         sync.RWMutex
	recipients map[uuid.UUID]map[*client]struct{}
	logg       *logger.Logger
}

type client struct {
	hub    *Hub
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates an empty connection registry.
func NewHub(logg *logger.Logger) *Hub {
	return &Hub{
		recipients: make(map[uuid.UUID]map[*client]struct{}),
		logg:       logg,
	}
}

// HandleConnection upgrades the HTTP request and registers the socket under
// the authenticated user. The caller resolves userID before handing off.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logg.Error(r.Context(), "websocket upgrade failed", err)
		return
	}

	c := &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.add(c)

	go c.writePump()
	go c.readPump()
}

// SendToUser pushes a frame to every open socket of the recipient. Sockets
// with a full buffer are dropped rather than blocked on.
func (h *Hub) SendToUser(ctx context.Context, userID uuid.UUID, push Push) error {
	data, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("marshal push frame: %w", err)
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.recipients[userID]))
	for c := range h.recipients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- data:
		default:
			h.remove(c)
		}
	}
	return nil
}

// ConnectionCount returns the number of open sockets across all recipients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.recipients {
		total += len(conns)
	}
	return total
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recipients[c.userID] == nil {
		h.recipients[c.userID] = make(map[*client]struct{})
	}
	h.recipients[c.userID][c] = struct{}{}
}

// remove unregisters the socket and closes the connection so both pumps
// exit. c.send is never closed: SendToUser may still hold a reference to a
// removed client, and a send racing the disconnect must land in the buffer
// rather than panic. The buffered frames go away with the client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	conns, ok := h.recipients[c.userID]
	if ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.recipients, c.userID)
			}
		}
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
