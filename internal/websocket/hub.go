// Package websocket provides the live project feed: chat.message action
// payloads pushed to browser clients subscribed to a project, without
// polling. Task status changes are not broadcast here; the scheduler
// publishes those to NATS only (internal/events).
//
// Architecture:
//   - Hub: owns the client set and the broadcast loop
//   - Client: one browser connection, scoped to a project
//
// Message flow:
//  1. Browser opens a WebSocket connection, authenticated via the same JWT
//     used for REST (see internal/auth.Middleware).
//  2. Client registers with the Hub, scoped to a project ID.
//  3. The chat.message action handler calls Hub.BroadcastToProject with
//     its event JSON.
//  4. Client.writePump delivers it to the browser.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub maintains active WebSocket connections and routes broadcasts to the
// clients subscribed to the matching project.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan projectMessage
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

type projectMessage struct {
	projectID string
	payload   []byte
}

// Client represents one authenticated browser connection, scoped to a
// single project's broadcasts.
type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	id        string
	projectID string
	userID    string
}

// NewHub creates a Hub. Call Run in its own goroutine before accepting
// connections.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan projectMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run is the Hub's single-goroutine event loop; every map mutation happens
// here so Client registration and broadcast never race.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Str("client", client.id).Str("project", client.projectID).Msg("websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			var stale []*Client
			for client := range h.clients {
				if client.projectID != msg.projectID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					stale = append(stale, client)
				}
			}
			h.mu.RUnlock()

			if len(stale) > 0 {
				h.mu.Lock()
				for _, client := range stale {
					close(client.send)
					delete(h.clients, client)
				}
				h.mu.Unlock()
			}
		}
	}
}

// BroadcastToProject sends payload to every client subscribed to projectID.
func (h *Hub) BroadcastToProject(projectID string, payload []byte) {
	h.broadcast <- projectMessage{projectID: projectID, payload: payload}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			break
		}
		// Clients are read-only subscribers; any inbound frame just resets
		// the read deadline above and is otherwise discarded.
	}
}

// ServeClient registers a new connection scoped to projectID and starts its
// read/write pumps.
func (h *Hub) ServeClient(conn *websocket.Conn, clientID, projectID, userID string) {
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		id:        clientID,
		projectID: projectID,
		userID:    userID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
