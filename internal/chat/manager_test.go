package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camroom/camroom/internal/storage"
)

func setup(t *testing.T) (*storage.DB, *storage.User, *storage.Room) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u, err := db.GetOrCreateUser("sub-alice", "")
	require.NoError(t, err)
	require.NoError(t, db.ClaimUsername(u.ID, "ALICE"))
	_, err = db.JoinRoom("ALICE", u.ID, "")
	require.NoError(t, err)

	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)
	return db, u, room
}

func TestSendAndHistory(t *testing.T) {
	db, alice, room := setup(t)

	m, err := New(db, "ALICE", room.ID, alice.ID, 10)
	require.NoError(t, err)
	defer m.Close()

	msg, err := m.Send("hello room")
	require.NoError(t, err)
	assert.Equal(t, "ALICE", msg.Username)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hello room", history[0].Content)
}

func TestHistoryLoadsExistingMessages(t *testing.T) {
	db, alice, room := setup(t)

	_, err := db.SendMessage("ALICE", alice.ID, "before")
	require.NoError(t, err)

	m, err := New(db, "ALICE", room.ID, alice.ID, 10)
	require.NoError(t, err)
	defer m.Close()

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Content)
}

func TestSubscribeReceivesOtherSendersOnce(t *testing.T) {
	db, alice, room := setup(t)

	bob, err := db.GetOrCreateUser("sub-bob", "")
	require.NoError(t, err)
	require.NoError(t, db.ClaimUsername(bob.ID, "BOB"))
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)
	require.NoError(t, db.AssignRegular("ALICE", alice.ID, "BOB"))

	m, err := New(db, "ALICE", room.ID, alice.ID, 10)
	require.NoError(t, err)
	defer m.Close()

	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	// BOB posts through storage directly, as another client would.
	_, err = db.SendMessage("ALICE", bob.ID, "hi from bob")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "BOB", msg.Username)
		assert.Equal(t, "hi from bob", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	// The refresh must not redeliver it.
	select {
	case msg := <-ch:
		t.Fatalf("duplicate delivery: %q", msg.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGuestErrorPassesThrough(t *testing.T) {
	db, _, room := setup(t)

	bob, err := db.GetOrCreateUser("sub-bob", "")
	require.NoError(t, err)
	require.NoError(t, db.ClaimUsername(bob.ID, "BOB"))
	_, err = db.JoinRoom("ALICE", bob.ID, "")
	require.NoError(t, err)

	m, err := New(db, "ALICE", room.ID, bob.ID, 10)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Send("let me in")
	assert.ErrorIs(t, err, storage.ErrGuestChat)

	_, err = m.SendDirect("ALICE", "psst")
	assert.ErrorIs(t, err, storage.ErrFreeTierDM)
}
