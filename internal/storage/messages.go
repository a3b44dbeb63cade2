package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one room chat message, with the sender's username joined.
type Message struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sent_at"`
}

// DirectMessage is a one-to-one message inside a room. Paid tiers only.
type DirectMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	RoomID     string `json:"room_id"`
	Content    string `json:"content"`
	SentAt     int64  `json:"sent_at"`
}

var (
	ErrGuestChat  = errors.New("guests cannot send messages")
	ErrFreeTierDM = errors.New("direct messages require a paid tier")
)

// SendMessage posts a chat message to a room. The sender must be a member
// with at least regular status; guests are read-only. Site admins and
// superusers can always post.
func (d *DB) SendMessage(roomName, userID, content string) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}
	user, err := d.userBy("id = ?", userID)
	if err != nil {
		return nil, err
	}
	p, err := d.participantLocked(room.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("join the room first: %w", ErrNotAuthorized)
	}

	privileged := user.Role == "siteadmin" || user.Superuser
	if p.Role == "guest" && !privileged {
		return nil, ErrGuestChat
	}

	msg := &Message{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		UserID:   userID,
		Username: user.Username,
		Content:  content,
		SentAt:   time.Now().UnixMilli(),
	}
	if _, err := d.db.Exec(`
		INSERT INTO messages (id, room_id, user_id, content, sent_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.UserID, msg.Content, msg.SentAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	d.notify(room.ID, "messages")
	return msg, nil
}

// Messages returns up to limit most recent messages, oldest first.
func (d *DB) Messages(roomName string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, ''), m.content, m.sent_at
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.sent_at DESC LIMIT ?`, room.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SendDirectMessage posts a DM between two users within a room. The sender
// must be on a paid tier.
func (d *DB) SendDirectMessage(roomName, senderID, receiverUsername, content string) (*DirectMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sender, err := d.userBy("id = ?", senderID)
	if err != nil {
		return nil, err
	}
	if sender.Tier == "free" {
		return nil, ErrFreeTierDM
	}
	receiver, err := d.userBy("username = ?", receiverUsername)
	if err != nil {
		return nil, err
	}
	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}

	dm := &DirectMessage{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		RoomID:     room.ID,
		Content:    content,
		SentAt:     time.Now().UnixMilli(),
	}
	if _, err := d.db.Exec(`
		INSERT INTO direct_messages (id, sender_id, receiver_id, room_id, content, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		dm.ID, dm.SenderID, dm.ReceiverID, dm.RoomID, dm.Content, dm.SentAt); err != nil {
		return nil, fmt.Errorf("insert dm: %w", err)
	}

	d.notify(room.ID, "direct_messages")
	return dm, nil
}
