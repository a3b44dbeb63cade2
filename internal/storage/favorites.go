package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddFavorite marks a room as a favorite of the user. Idempotent.
func (d *DB) AddFavorite(userID, roomName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT OR IGNORE INTO favorite_rooms (id, user_id, room_id, favorited_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), userID, room.ID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unmarks a favorite. Removing a non-favorite is not an error.
func (d *DB) RemoveFavorite(userID, roomName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`DELETE FROM favorite_rooms WHERE user_id = ? AND room_id = ?`,
		userID, room.ID)
	return err
}

// FavoriteRooms returns the user's favorites as directory entries with
// current occupancy counts, newest favorite first.
func (d *DB) FavoriteRooms(userID string) ([]RoomSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT c.id, c.name, c.owner_id, COALESCE(u.username, ''), c.active, c.created_at,
		       COUNT(p.id),
		       COALESCE(SUM(p.camera_on), 0)
		FROM favorite_rooms f
		JOIN chatrooms c ON c.id = f.room_id
		LEFT JOIN users u ON u.id = c.owner_id
		LEFT JOIN room_participants p ON p.room_id = c.id AND p.online = 1
		WHERE f.user_id = ?
		GROUP BY c.id
		ORDER BY f.favorited_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomSummary
	for rows.Next() {
		var s RoomSummary
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID, &s.OwnerUsername, &active,
			&s.CreatedAt, &s.ParticipantCount, &s.CameraCount); err != nil {
			return nil, err
		}
		s.Active = active != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// IsFavorited reports whether the user has favorited the room.
func (d *DB) IsFavorited(userID, roomName string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return false, err
	}
	var n int
	if err := d.db.QueryRow(`
		SELECT COUNT(*) FROM favorite_rooms WHERE user_id = ? AND room_id = ?`,
		userID, room.ID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
