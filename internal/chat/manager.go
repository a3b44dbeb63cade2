// Package chat is the in-room messaging layer for one room visit: recent
// history in memory, new messages fanned out to listeners, persistence and
// role gating delegated to storage.
package chat

import (
	"log"
	"sync"

	"github.com/camroom/camroom/internal/storage"
	"github.com/camroom/camroom/internal/util"
)

// DefaultBufferSize is the default number of messages to keep in memory.
const DefaultBufferSize = 100

// Manager handles chat for one user's visit to one room.
type Manager struct {
	db     *storage.DB
	room   string
	roomID string
	selfID string

	mu        sync.RWMutex
	recent    *util.RingBuffer[*storage.Message]
	seen      map[string]struct{} // message ids already in the ring
	listeners []chan *storage.Message
	cancel    func()
}

// New loads recent history and starts following the room's message stream.
func New(db *storage.DB, room, roomID, selfID string, bufferSize int) (*Manager, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	m := &Manager{
		db:     db,
		room:   room,
		roomID: roomID,
		selfID: selfID,
		recent: util.NewRingBuffer[*storage.Message](bufferSize),
		seen:   make(map[string]struct{}),
	}

	history, err := db.Messages(room, bufferSize)
	if err != nil {
		return nil, err
	}
	for i := range history {
		msg := history[i]
		m.recent.Push(&msg)
		m.seen[msg.ID] = struct{}{}
	}

	changes, cancel := db.SubscribeRoom(roomID)
	m.cancel = cancel
	go m.follow(changes)

	return m, nil
}

// Send posts a message to the room. Storage enforces who may speak; a guest
// gets storage.ErrGuestChat back unchanged.
func (m *Manager) Send(content string) (*storage.Message, error) {
	msg, err := m.db.SendMessage(m.room, m.selfID, content)
	if err != nil {
		return nil, err
	}
	m.addMessage(msg)
	return msg, nil
}

// SendDirect posts a DM to another participant. Paid tiers only; storage
// enforces it.
func (m *Manager) SendDirect(toUsername, content string) (*storage.DirectMessage, error) {
	return m.db.SendDirectMessage(m.room, m.selfID, toUsername, content)
}

// History returns the buffered messages, oldest first.
func (m *Manager) History() []*storage.Message {
	return m.recent.Snapshot()
}

// Subscribe returns a channel that receives new messages.
func (m *Manager) Subscribe() <-chan *storage.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *storage.Message, 10)
	m.listeners = append(m.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel.
func (m *Manager) Unsubscribe(ch <-chan *storage.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			close(listener)
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// follow refreshes from storage on every messages change. Redeliveries are
// dropped on the seen set, so other participants' messages arrive exactly
// once per listener.
func (m *Manager) follow(changes <-chan storage.Change) {
	for ch := range changes {
		if ch.Table != "messages" {
			continue
		}
		msgs, err := m.db.Messages(m.room, m.recent.Cap())
		if err != nil {
			log.Printf("CHAT: refresh messages: %v", err)
			continue
		}
		for i := range msgs {
			m.addMessage(&msgs[i])
		}
	}
}

// addMessage buffers a message and notifies listeners, once per id.
func (m *Manager) addMessage(msg *storage.Message) {
	m.mu.Lock()
	if _, dup := m.seen[msg.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.seen[msg.ID] = struct{}{}
	m.mu.Unlock()

	m.recent.Push(msg)

	m.mu.RLock()
	for _, listener := range m.listeners {
		select {
		case listener <- msg:
		default:
			// Listener buffer full, skip.
		}
	}
	m.mu.RUnlock()
}

// Close stops following the room and closes all listener channels.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, listener := range m.listeners {
		close(listener)
	}
	m.listeners = nil
	return nil
}
