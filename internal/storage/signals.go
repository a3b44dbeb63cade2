package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SignalRow is one pending signaling message in the mailbox. Rows are
// written by the sender, read by the recipient, and deleted by the
// recipient after processing. Payload is opaque to storage.
type SignalRow struct {
	ID           string `json:"id"`
	RoomID       string `json:"room_id"`
	FromUsername string `json:"from_username"`
	ToUsername   string `json:"to_username"`
	Kind         string `json:"kind"`
	Payload      string `json:"payload"`
	CreatedAt    int64  `json:"created_at"`
}

// InsertSignal appends a signaling message addressed to a user in a room
// and returns its id.
func (d *DB) InsertSignal(roomID, fromUsername, toUsername, kind, payload string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	_, err := d.db.Exec(`
		INSERT INTO webrtc_signals (id, room_id, from_username, to_username, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, roomID, fromUsername, toUsername, kind, payload, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert signal: %w", err)
	}
	d.notify(roomID, "signals")
	return id, nil
}

// SignalsFor returns all pending signals addressed to a user in a room,
// oldest first. Note the mailbox does not guarantee ordering between
// distinct writers; consumers must tolerate out-of-order arrival.
func (d *DB) SignalsFor(roomID, toUsername string) ([]SignalRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, room_id, from_username, to_username, kind, payload, created_at
		FROM webrtc_signals
		WHERE room_id = ? AND to_username = ?
		ORDER BY created_at`, roomID, toUsername)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRow
	for rows.Next() {
		var s SignalRow
		if err := rows.Scan(&s.ID, &s.RoomID, &s.FromUsername, &s.ToUsername,
			&s.Kind, &s.Payload, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSignal removes a consumed signal. Deleting a missing id is not an
// error; senders and cleanup may race with the recipient.
func (d *DB) DeleteSignal(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`DELETE FROM webrtc_signals WHERE id = ?`, id)
	return err
}

// PurgeExpiredSignals drops signals in a room older than maxAge. Bounds the
// retry window for signals whose recipient never consumed them.
func (d *DB) PurgeExpiredSignals(roomID string, maxAge time.Duration) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := d.db.Exec(`
		DELETE FROM webrtc_signals WHERE room_id = ? AND created_at < ?`,
		roomID, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
