package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeUser(t *testing.T, db *DB, username string) *User {
	t.Helper()
	u, err := db.GetOrCreateUser("sub-"+username, username+"@example.com")
	require.NoError(t, err)
	require.NoError(t, db.ClaimUsername(u.ID, username))
	u, err = db.GetUser(u.ID)
	require.NoError(t, err)
	return u
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	a, err := db.GetOrCreateUser("sub-1", "a@example.com")
	require.NoError(t, err)
	b, err := db.GetOrCreateUser("sub-1", "ignored@example.com")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "free", a.Tier)
	assert.Equal(t, "user", a.Role)
}

func TestClaimUsernameCreatesOwnRoom(t *testing.T) {
	db := openTestDB(t)
	u := makeUser(t, db, "ALICE")

	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, room.OwnerID)
	assert.Equal(t, "ALICE", room.OwnerUsername)

	// The owner participant row exists, offline until a visit.
	p, err := db.JoinRoom("ALICE", u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "owner", p.Role)
}

func TestClaimUsernameRules(t *testing.T) {
	db := openTestDB(t)
	makeUser(t, db, "ALICE")

	other, err := db.GetOrCreateUser("sub-other", "")
	require.NoError(t, err)

	assert.ErrorIs(t, db.ClaimUsername(other.ID, "ALICE"), ErrUsernameTaken)
	assert.ErrorIs(t, db.ClaimUsername(other.ID, "lowercase"), ErrInvalidName)
	assert.ErrorIs(t, db.ClaimUsername(other.ID, "WITH SPACE"), ErrInvalidName)

	// Re-claiming your own name is a no-op.
	makeUser(t, db, "BOB")
	bob, err := db.GetUserByUsername("BOB")
	require.NoError(t, err)
	assert.NoError(t, db.ClaimUsername(bob.ID, "BOB"))
}

func TestJoinRoomStartsAsGuest(t *testing.T) {
	db := openTestDB(t)
	makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")

	p, err := db.JoinRoom("ALICE", bob.ID, "Bobby")
	require.NoError(t, err)
	assert.Equal(t, "guest", p.Role)
	assert.True(t, p.Online)

	// Leaving and rejoining keeps the membership row.
	require.NoError(t, db.LeaveRoom("ALICE", bob.ID))
	p2, err := db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
}

func TestGuestsCannotChat(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")

	_, err := db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)

	_, err = db.SendMessage("ALICE", bob.ID, "hi")
	assert.ErrorIs(t, err, ErrGuestChat)

	// The owner grants regular status; now BOB can speak.
	require.NoError(t, db.AssignRegular("ALICE", alice.ID, "BOB"))
	msg, err := db.SendMessage("ALICE", bob.ID, "hi again")
	require.NoError(t, err)
	assert.Equal(t, "BOB", msg.Username)

	msgs, err := db.Messages("ALICE", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi again", msgs[0].Content)
}

func TestMessagesReturnsOldestFirstWithLimit(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	_, err := db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := db.SendMessage("ALICE", alice.ID, text)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct sent_at ordering
	}

	msgs, err := db.Messages("ALICE", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestDirectMessagesRequirePaidTier(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	makeUser(t, db, "BOB")

	_, err := db.SendDirectMessage("ALICE", alice.ID, "BOB", "psst")
	assert.ErrorIs(t, err, ErrFreeTierDM)

	require.NoError(t, db.UpdateUserTier(alice.ID, "pro"))
	dm, err := db.SendDirectMessage("ALICE", alice.ID, "BOB", "psst")
	require.NoError(t, err)
	assert.Equal(t, "psst", dm.Content)

	assert.ErrorIs(t, db.UpdateUserTier(alice.ID, "platinum"), ErrInvalidName)
}

func TestModeratorAssignmentIsOwnerOnly(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")
	carol := makeUser(t, db, "CAROL")

	for _, u := range []*User{alice, bob, carol} {
		_, err := db.JoinRoom("ALICE", u.ID, "")
		require.NoError(t, err)
	}

	assert.ErrorIs(t, db.AssignModerator("ALICE", bob.ID, "CAROL"), ErrNotAuthorized)
	require.NoError(t, db.AssignModerator("ALICE", alice.ID, "BOB"))

	// Moderators can grant regular status.
	require.NoError(t, db.AssignRegular("ALICE", bob.ID, "CAROL"))
}

func TestModeratorsOnlyActOnGuestsAndRegulars(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")
	carol := makeUser(t, db, "CAROL")

	for _, u := range []*User{alice, bob, carol} {
		_, err := db.JoinRoom("ALICE", u.ID, "")
		require.NoError(t, err)
	}
	require.NoError(t, db.AssignModerator("ALICE", alice.ID, "BOB"))
	require.NoError(t, db.AssignModerator("ALICE", alice.ID, "CAROL"))

	// A moderator cannot kick another moderator, but the owner can.
	assert.ErrorIs(t, db.KickUser("ALICE", bob.ID, "CAROL"), ErrNotAuthorized)
	assert.NoError(t, db.KickUser("ALICE", alice.ID, "CAROL"))
}

func TestKickForcesOffline(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")

	_, err := db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)
	require.NoError(t, db.SetCamera("ALICE", bob.ID, true))

	require.NoError(t, db.KickUser("ALICE", alice.ID, "BOB"))

	// Participants lists online members only; a kicked member is gone.
	parts, err := db.Participants("ALICE")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "ALICE", parts[0].Username)
}

func TestBanBlocksJoinUntilUnban(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")

	_, err := db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)

	require.NoError(t, db.BanUser("ALICE", alice.ID, "BOB", "spam"))

	_, err = db.JoinRoom("ALICE", bob.ID, "")
	assert.ErrorIs(t, err, ErrBanned)

	bans, err := db.BanList("ALICE")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "BOB", bans[0].Username)
	assert.Equal(t, "spam", bans[0].Reason)

	require.NoError(t, db.UnbanUser("ALICE", alice.ID, "BOB"))
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	assert.NoError(t, err)
}

func TestParticipantsSortTierThenRole(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")
	carol := makeUser(t, db, "CAROL")

	for _, u := range []*User{alice, bob, carol} {
		_, err := db.JoinRoom("ALICE", u.ID, "")
		require.NoError(t, err)
	}
	require.NoError(t, db.UpdateUserTier(carol.ID, "gold"))

	parts, err := db.Participants("ALICE")
	require.NoError(t, err)
	require.Len(t, parts, 3)
	// Gold tier outranks the free-tier owner.
	assert.Equal(t, "CAROL", parts[0].Username)
	assert.Equal(t, "ALICE", parts[1].Username)
	assert.Equal(t, "BOB", parts[2].Username)
}

func TestDirectoryListsOnlyRoomsWithCameras(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	makeUser(t, db, "BOB")

	rooms, err := db.ListActiveRooms()
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)
	require.NoError(t, db.SetCamera("ALICE", alice.ID, true))

	rooms, err = db.ListActiveRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ALICE", rooms[0].Name)
	assert.Equal(t, 1, rooms[0].CameraCount)
}

func TestFavorites(t *testing.T) {
	db := openTestDB(t)
	makeUser(t, db, "ALICE")
	bob := makeUser(t, db, "BOB")

	require.NoError(t, db.AddFavorite(bob.ID, "ALICE"))
	require.NoError(t, db.AddFavorite(bob.ID, "ALICE")) // idempotent

	fav, err := db.IsFavorited(bob.ID, "ALICE")
	require.NoError(t, err)
	assert.True(t, fav)

	rooms, err := db.FavoriteRooms(bob.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ALICE", rooms[0].Name)

	require.NoError(t, db.RemoveFavorite(bob.ID, "ALICE"))
	rooms, err = db.FavoriteRooms(bob.ID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestSignalMailboxRoundTrip(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)
	_ = alice

	id, err := db.InsertSignal(room.ID, "ALICE", "BOB", "offer", `{"sdp":"x"}`)
	require.NoError(t, err)

	rows, err := db.SignalsFor(room.ID, "BOB")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "offer", rows[0].Kind)

	// Addressed to BOB only.
	rows, err = db.SignalsFor(room.ID, "CAROL")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, db.DeleteSignal(id))
	require.NoError(t, db.DeleteSignal(id)) // idempotent

	rows, err = db.SignalsFor(room.ID, "BOB")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPurgeExpiredSignals(t *testing.T) {
	db := openTestDB(t)
	makeUser(t, db, "ALICE")
	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)

	_, err = db.InsertSignal(room.ID, "ALICE", "BOB", "ice", "cand")
	require.NoError(t, err)

	n, err := db.PurgeExpiredSignals(room.ID, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(5 * time.Millisecond)
	n, err = db.PurgeExpiredSignals(room.ID, time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSubscribeRoomNotifiesOnChange(t *testing.T) {
	db := openTestDB(t)
	alice := makeUser(t, db, "ALICE")
	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)

	changes, cancel := db.SubscribeRoom(room.ID)
	defer cancel()

	_, err = db.JoinRoom("ALICE", alice.ID, "")
	require.NoError(t, err)

	select {
	case ch := <-changes:
		assert.Equal(t, room.ID, ch.RoomID)
		assert.Equal(t, "participants", ch.Table)
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}
