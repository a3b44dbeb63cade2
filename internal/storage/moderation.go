package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ban is one room-level (or sitewide) ban entry.
type Ban struct {
	ID               string `json:"id"`
	RoomID           string `json:"room_id"`
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	BannedByID       string `json:"banned_by_id"`
	BannedByUsername string `json:"banned_by_username"`
	Reason           string `json:"reason,omitempty"`
	Sitewide         bool   `json:"sitewide"`
	BannedAt         int64  `json:"banned_at"`
}

// AssignModerator promotes a room member to moderator. Room owner only.
func (d *DB) AssignModerator(roomName, actorID, targetUsername string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	if room.OwnerID != actorID {
		return fmt.Errorf("only the room owner can assign moderators: %w", ErrNotAuthorized)
	}
	return d.setRoleLocked(room, targetUsername, "moderator")
}

// AssignRegular grants a member regular (chat) status. Owner or moderator.
func (d *DB) AssignRegular(roomName, actorID, targetUsername string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	if err := d.requireModLocked(room, actorID); err != nil {
		return err
	}
	return d.setRoleLocked(room, targetUsername, "regular")
}

// KickUser forces a member offline. Owner or moderator; moderators can only
// kick guests and regulars; site admins and superusers are immune.
func (d *DB) KickUser(roomName, actorID, targetUsername string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	_, target, err := d.modActionLocked(room, actorID, targetUsername)
	if err != nil {
		return err
	}

	if _, err := d.db.Exec(`
		UPDATE room_participants SET online = 0, camera_on = 0
		WHERE room_id = ? AND user_id = ?`, room.ID, target.ID); err != nil {
		return err
	}
	d.notify(room.ID, "participants")
	return nil
}

// BanUser kicks a member and adds them to the room ban list.
func (d *DB) BanUser(roomName, actorID, targetUsername, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	actor, target, err := d.modActionLocked(room, actorID, targetUsername)
	if err != nil {
		return err
	}

	if _, err := d.db.Exec(`
		UPDATE room_participants SET online = 0, camera_on = 0
		WHERE room_id = ? AND user_id = ?`, room.ID, target.ID); err != nil {
		return err
	}
	if _, err := d.db.Exec(`
		INSERT OR IGNORE INTO bans (id, room_id, user_id, banned_by_id, reason, sitewide, banned_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), room.ID, target.ID, actor.ID, reason, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert ban: %w", err)
	}

	d.notify(room.ID, "participants")
	return nil
}

// UnbanUser lifts a room-level ban. Sitewide bans cannot be lifted here.
func (d *DB) UnbanUser(roomName, actorID, targetUsername string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return err
	}
	if err := d.requireModLocked(room, actorID); err != nil {
		return err
	}
	target, err := d.userBy("username = ?", targetUsername)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		DELETE FROM bans WHERE room_id = ? AND user_id = ? AND sitewide = 0`,
		room.ID, target.ID)
	return err
}

// SitewideBan bans a user from every room. Site admins only.
func (d *DB) SitewideBan(actorID, targetUsername, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	actor, err := d.userBy("id = ?", actorID)
	if err != nil {
		return err
	}
	if actor.Role != "siteadmin" {
		return fmt.Errorf("only site admins can issue sitewide bans: %w", ErrNotAuthorized)
	}
	target, err := d.userBy("username = ?", targetUsername)
	if err != nil {
		return err
	}

	rows, err := d.db.Query(`SELECT id FROM chatrooms`)
	if err != nil {
		return err
	}
	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		roomIDs = append(roomIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, roomID := range roomIDs {
		if _, err := d.db.Exec(`
			INSERT OR IGNORE INTO bans (id, room_id, user_id, banned_by_id, reason, sitewide, banned_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)`,
			uuid.NewString(), roomID, target.ID, actor.ID, reason, now); err != nil {
			return fmt.Errorf("insert sitewide ban: %w", err)
		}
		if _, err := d.db.Exec(`
			UPDATE room_participants SET online = 0, camera_on = 0
			WHERE room_id = ? AND user_id = ?`, roomID, target.ID); err != nil {
			return err
		}
		d.notify(roomID, "participants")
	}
	return nil
}

// BanList returns all bans for a room with usernames resolved.
func (d *DB) BanList(roomName string) ([]Ban, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, err := d.roomByNameLocked(roomName)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT b.id, b.room_id, b.user_id, COALESCE(u.username, ''),
		       b.banned_by_id, COALESCE(m.username, ''), b.reason, b.sitewide, b.banned_at
		FROM bans b
		LEFT JOIN users u ON u.id = b.user_id
		LEFT JOIN users m ON m.id = b.banned_by_id
		WHERE b.room_id = ?
		ORDER BY b.banned_at`, room.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ban
	for rows.Next() {
		var b Ban
		var sitewide int
		if err := rows.Scan(&b.ID, &b.RoomID, &b.UserID, &b.Username,
			&b.BannedByID, &b.BannedByUsername, &b.Reason, &sitewide, &b.BannedAt); err != nil {
			return nil, err
		}
		b.Sitewide = sitewide != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// requireModLocked checks that actorID is the owner or a moderator of the
// room. Caller holds d.mu.
func (d *DB) requireModLocked(room *Room, actorID string) error {
	p, err := d.participantLocked(room.ID, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	if p.Role != "owner" && p.Role != "moderator" {
		return fmt.Errorf("owner or moderator required: %w", ErrNotAuthorized)
	}
	return nil
}

// modActionLocked validates a kick/ban: actor must be owner/moderator,
// target must be a member, site admins are immune, and moderators can only
// act on guests and regulars. Caller holds d.mu.
func (d *DB) modActionLocked(room *Room, actorID, targetUsername string) (actor, target *User, err error) {
	actorP, err := d.participantLocked(room.ID, actorID)
	if err != nil || (actorP.Role != "owner" && actorP.Role != "moderator") {
		return nil, nil, fmt.Errorf("owner or moderator required: %w", ErrNotAuthorized)
	}
	actor, err = d.userBy("id = ?", actorID)
	if err != nil {
		return nil, nil, err
	}
	target, err = d.userBy("username = ?", targetUsername)
	if err != nil {
		return nil, nil, err
	}
	if target.Role == "siteadmin" || target.Superuser {
		return nil, nil, fmt.Errorf("site admins are immune: %w", ErrNotAuthorized)
	}
	targetP, err := d.participantLocked(room.ID, target.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("user is not in the room: %w", ErrNotFound)
		}
		return nil, nil, err
	}
	if actorP.Role == "moderator" && targetP.Role != "guest" && targetP.Role != "regular" {
		return nil, nil, fmt.Errorf("moderators can only act on guests and regulars: %w", ErrNotAuthorized)
	}
	return actor, target, nil
}

// setRoleLocked updates a member's room role. Caller holds d.mu.
func (d *DB) setRoleLocked(room *Room, targetUsername, role string) error {
	target, err := d.userBy("username = ?", targetUsername)
	if err != nil {
		return err
	}
	res, err := d.db.Exec(`
		UPDATE room_participants SET role = ? WHERE room_id = ? AND user_id = ?`,
		role, room.ID, target.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user is not in the room: %w", ErrNotFound)
	}
	d.notify(room.ID, "participants")
	return nil
}
