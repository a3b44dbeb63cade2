package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/camroom/camroom/internal/util"
)

// User is an account synced from the external identity provider. The
// provider owns authentication; this table only mirrors identity and adds
// the claimed username, tier and site role.
type User struct {
	ID        string `json:"id"`
	Subject   string `json:"-"` // identity-provider subject, never exposed
	Username  string `json:"username"`
	Email     string `json:"email"`
	ImageURL  string `json:"image_url,omitempty"`
	Tier      string `json:"tier"`
	Role      string `json:"role"`
	Superuser bool   `json:"-"` // invisible in room user lists
	CreatedAt int64  `json:"created_at"`
}

// GetOrCreateUser looks up the account for an identity-provider subject,
// creating it on first sign-in. New accounts start with no username, the
// free tier and the plain user role.
func (d *DB) GetOrCreateUser(subject, email string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.userBy("subject = ?", subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &User{
		ID:        uuid.NewString(),
		Subject:   subject,
		Email:     email,
		Tier:      "free",
		Role:      "user",
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err = d.db.Exec(`
		INSERT INTO users (id, subject, username, email, tier, role, superuser, created_at)
		VALUES (?, ?, '', ?, ?, ?, 0, ?)`,
		u.ID, u.Subject, u.Email, u.Tier, u.Role, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// ClaimUsername assigns a username to an account and creates the user's own
// room of the same name. Usernames are permanent room identities: capital
// A-Z only, unique across the site.
func (d *DB) ClaimUsername(userID, username string) error {
	if err := util.ValidateUsername(username); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var takenBy string
	err := d.db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&takenBy)
	switch {
	case err == nil && takenBy != userID:
		return ErrUsernameTaken
	case err == nil:
		return nil // already claimed by this user
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	res, err := d.db.Exec(`UPDATE users SET username = ? WHERE id = ?`, username, userID)
	if err != nil {
		return fmt.Errorf("claim username: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// The username doubles as the user's room. Create it with the claimer
	// as owner, offline until the first visit.
	return d.createRoomLocked(username, userID)
}

// GetUser returns a user by id.
func (d *DB) GetUser(id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userBy("id = ?", id)
}

// GetUserByUsername returns a user by claimed username.
func (d *DB) GetUserByUsername(username string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userBy("username = ?", username)
}

// UpdateUserTier changes a user's subscription tier.
func (d *DB) UpdateUserTier(userID, tier string) error {
	switch tier {
	case "free", "pro", "extreme", "gold":
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidName, tier)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`UPDATE users SET tier = ? WHERE id = ?`, tier, userID)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// userBy fetches a single user by an indexed column. Caller holds d.mu.
func (d *DB) userBy(where string, args ...any) (*User, error) {
	var u User
	var superuser int
	err := d.db.QueryRow(`
		SELECT id, subject, username, email, image_url, tier, role, superuser, created_at
		FROM users WHERE `+where, args...).
		Scan(&u.ID, &u.Subject, &u.Username, &u.Email, &u.ImageURL, &u.Tier, &u.Role, &superuser, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Superuser = superuser != 0
	return &u, nil
}
