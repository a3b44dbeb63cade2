package gateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/camroom/camroom/internal/chat"
	"github.com/camroom/camroom/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway binds to loopback; the identity provider fronts anything
	// public.
	CheckOrigin: func(*http.Request) bool { return true },
}

// roomEvent is one WebSocket message: a table that changed plus a fresh
// snapshot of it. Snapshots, not deltas, so a dropped message costs nothing.
type roomEvent struct {
	Type         string                `json:"type"`
	Participants []storage.Participant `json:"participants,omitempty"`
	Messages     []storage.Message     `json:"messages,omitempty"`
}

// Hub tracks connected room sockets so shutdown can close them all.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("GATEWAY: socket open for %s in %s (total=%d)", c.username, c.room, n)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("GATEWAY: socket closed for %s in %s (total=%d)", c.username, c.room, n)
		}
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}

// remove unregisters a client without blocking if the hub already stopped.
func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
		c.close()
	}
}

// client is one room socket: a storage subscription feeding a write pump.
// send is never closed; closing the connection is what ends the pumps.
type client struct {
	conn     *websocket.Conn
	room     string
	username string
	send     chan roomEvent
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		c.conn.Close()
	})
}

// GET /ws/rooms/{room} — upgrade and stream participant and message
// snapshots until the peer goes away.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	room, err := s.db.GetRoomByName(roomName)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	chatMgr, err := chat.New(s.db, roomName, room.ID, requestUser(r).ID, 0)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		chatMgr.Close()
		log.Printf("GATEWAY: upgrade: %v", err)
		return
	}

	c := &client{
		conn:     conn,
		room:     roomName,
		username: requestUser(r).Username,
		send:     make(chan roomEvent, 16),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.quit:
		chatMgr.Close()
		conn.Close()
		return
	}

	changes, cancel := s.db.SubscribeRoom(room.ID)
	go s.pumpChanges(c, chatMgr, changes)
	go c.writePump(func() {
		cancel()
		chatMgr.Close()
		s.hub.remove(c)
	})
	go c.readPump()
}

// pumpChanges turns participant changes and chat arrivals into snapshot
// events. Messages come through the chat manager, which already buffers
// recent history and deduplicates redeliveries.
func (s *Server) pumpChanges(c *client, chatMgr *chat.Manager, changes <-chan storage.Change) {
	push := func(ev roomEvent) {
		select {
		case c.send <- ev:
		default:
			// Slow socket; the next change carries a fresh snapshot anyway.
		}
	}

	if parts, err := s.db.Participants(c.room); err == nil {
		push(roomEvent{Type: "participants", Participants: parts})
	}
	msgs := chatMgr.Subscribe()
	push(roomEvent{Type: "messages", Messages: messageSnapshot(chatMgr)})

	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.Table != "participants" {
				continue
			}
			parts, err := s.db.Participants(c.room)
			if err != nil {
				log.Printf("GATEWAY: participants snapshot: %v", err)
				continue
			}
			push(roomEvent{Type: "participants", Participants: parts})
		case _, ok := <-msgs:
			if !ok {
				return
			}
			push(roomEvent{Type: "messages", Messages: messageSnapshot(chatMgr)})
		}
	}
}

func messageSnapshot(cm *chat.Manager) []storage.Message {
	hist := cm.History()
	out := make([]storage.Message, len(hist))
	for i, m := range hist {
		out[i] = *m
	}
	return out
}

// writePump owns all writes on the connection.
func (c *client) writePump(done func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		done()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is one-way. It exists to
// process pongs and notice the peer vanishing.
func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
