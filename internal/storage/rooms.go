package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/camroom/camroom/internal/util"
)

// Room is a chatroom. Room names are usernames: claiming a username creates
// the room of the same name.
type Room struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnerID       string `json:"owner_id"`
	OwnerUsername string `json:"owner_username,omitempty"`
	Active        bool   `json:"active"`
	CreatedAt     int64  `json:"created_at"`
}

// RoomSummary is a directory entry: a room plus live occupancy counts.
type RoomSummary struct {
	Room
	ParticipantCount int `json:"participant_count"`
	CameraCount      int `json:"camera_count"`
}

// Participant is one user's membership in a room.
type Participant struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	JoinedAt    int64  `json:"joined_at"`
	Online      bool   `json:"online"`
	CameraOn    bool   `json:"camera_on"`

	// Joined user fields, filled by Participants.
	Username string `json:"username"`
	Tier     string `json:"tier"`
}

// createRoomLocked inserts a room plus its owner participant row. Caller
// holds d.mu.
func (d *DB) createRoomLocked(name, ownerID string) error {
	now := time.Now().UnixMilli()
	roomID := uuid.NewString()
	if _, err := d.db.Exec(`
		INSERT INTO chatrooms (id, name, owner_id, active, created_at)
		VALUES (?, ?, ?, 1, ?)`, roomID, name, ownerID, now); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if _, err := d.db.Exec(`
		INSERT INTO room_participants (id, room_id, user_id, role, joined_at, online, camera_on)
		VALUES (?, ?, ?, 'owner', ?, 0, 0)`, uuid.NewString(), roomID, ownerID, now); err != nil {
		return fmt.Errorf("create owner participant: %w", err)
	}
	return nil
}

// GetOrCreateRoom returns the room with the given name, creating it owned
// by ownerID if it does not exist yet.
func (d *DB) GetOrCreateRoom(name, ownerID string) (*Room, error) {
	if err := util.ValidateUsername(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, err := d.roomByNameLocked(name)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := d.createRoomLocked(name, ownerID); err != nil {
		return nil, err
	}
	return d.roomByNameLocked(name)
}

// GetRoomByName returns a room with its owner's username resolved.
func (d *DB) GetRoomByName(name string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roomByNameLocked(name)
}

func (d *DB) roomByNameLocked(name string) (*Room, error) {
	var r Room
	var active int
	err := d.db.QueryRow(`
		SELECT c.id, c.name, c.owner_id, COALESCE(u.username, ''), c.active, c.created_at
		FROM chatrooms c LEFT JOIN users u ON u.id = c.owner_id
		WHERE c.name = ?`, name).
		Scan(&r.ID, &r.Name, &r.OwnerID, &r.OwnerUsername, &active, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

// ListActiveRooms returns the directory: active rooms with at least one
// participant on camera, with occupancy counts and owner usernames.
func (d *DB) ListActiveRooms() ([]RoomSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT c.id, c.name, c.owner_id, COALESCE(u.username, ''), c.created_at,
		       COUNT(p.id),
		       COALESCE(SUM(p.camera_on), 0)
		FROM chatrooms c
		LEFT JOIN users u ON u.id = c.owner_id
		LEFT JOIN room_participants p ON p.room_id = c.id AND p.online = 1
		WHERE c.active = 1
		GROUP BY c.id
		HAVING COALESCE(SUM(p.camera_on), 0) > 0
		ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomSummary
	for rows.Next() {
		var s RoomSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID, &s.OwnerUsername, &s.CreatedAt,
			&s.ParticipantCount, &s.CameraCount); err != nil {
			return nil, err
		}
		s.Active = true
		out = append(out, s)
	}
	return out, rows.Err()
}

// JoinRoom adds a user to a room (or marks an existing membership online).
// Banned users are rejected. First-time joiners enter as guests.
func (d *DB) JoinRoom(roomName, userID, displayName string) (*Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}

	var banned int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM bans WHERE room_id = ? AND user_id = ?`,
		room.ID, userID).Scan(&banned); err != nil {
		return nil, err
	}
	if banned > 0 {
		return nil, ErrBanned
	}

	p, err := d.participantLocked(room.ID, userID)
	switch {
	case err == nil:
		if _, err := d.db.Exec(`
			UPDATE room_participants SET online = 1, display_name = CASE WHEN ? != '' THEN ? ELSE display_name END
			WHERE id = ?`, displayName, displayName, p.ID); err != nil {
			return nil, err
		}
		p.Online = true
	case errors.Is(err, ErrNotFound):
		p = &Participant{
			ID:          uuid.NewString(),
			RoomID:      room.ID,
			UserID:      userID,
			DisplayName: displayName,
			Role:        "guest",
			JoinedAt:    time.Now().UnixMilli(),
			Online:      true,
		}
		if _, err := d.db.Exec(`
			INSERT INTO room_participants (id, room_id, user_id, display_name, role, joined_at, online, camera_on)
			VALUES (?, ?, ?, ?, 'guest', ?, 1, 0)`,
			p.ID, p.RoomID, p.UserID, p.DisplayName, p.JoinedAt); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	d.notify(room.ID, "participants")
	return p, nil
}

// LeaveRoom marks a membership offline. Leaving a room you never joined is
// not an error.
func (d *DB) LeaveRoom(roomName, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	res, err := d.db.Exec(`
		UPDATE room_participants SET online = 0, camera_on = 0
		WHERE room_id = ? AND user_id = ?`, room.ID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.notify(room.ID, "participants")
	}
	return nil
}

// SetCamera flips the camera flag for a user's membership in a room.
func (d *DB) SetCamera(roomName, userID string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	cam := 0
	if on {
		cam = 1
	}
	res, err := d.db.Exec(`
		UPDATE room_participants SET camera_on = ? WHERE room_id = ? AND user_id = ?`,
		cam, room.ID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	d.notify(room.ID, "participants")
	return nil
}

// Participants returns the online members of a room with user fields
// joined. Superusers are hidden. Sorted paid tiers first, then by room
// role, then by join time.
func (d *DB) Participants(roomName string) ([]Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT p.id, p.room_id, p.user_id, p.display_name, p.role, p.joined_at,
		       p.online, p.camera_on, u.username, u.tier
		FROM room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ? AND p.online = 1 AND u.superuser = 0`, room.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var online, cam int
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.DisplayName, &p.Role,
			&p.JoinedAt, &online, &cam, &p.Username, &p.Tier); err != nil {
			return nil, err
		}
		p.Online = online != 0
		p.CameraOn = cam != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if a, b := tierRank(out[i].Tier), tierRank(out[j].Tier); a != b {
			return a < b
		}
		if a, b := roleRank(out[i].Role), roleRank(out[j].Role); a != b {
			return a < b
		}
		return out[i].JoinedAt < out[j].JoinedAt
	})
	return out, nil
}

// participantLocked fetches one membership row. Caller holds d.mu.
func (d *DB) participantLocked(roomID, userID string) (*Participant, error) {
	var p Participant
	var online, cam int
	err := d.db.QueryRow(`
		SELECT id, room_id, user_id, display_name, role, joined_at, online, camera_on
		FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID).
		Scan(&p.ID, &p.RoomID, &p.UserID, &p.DisplayName, &p.Role, &p.JoinedAt, &online, &cam)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Online = online != 0
	p.CameraOn = cam != 0
	return &p, nil
}

func tierRank(tier string) int {
	switch tier {
	case "gold":
		return 0
	case "extreme":
		return 1
	case "pro":
		return 2
	default:
		return 3
	}
}

func roleRank(role string) int {
	switch role {
	case "owner":
		return 0
	case "moderator":
		return 1
	case "regular":
		return 2
	default:
		return 3
	}
}
