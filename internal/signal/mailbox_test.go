package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camroom/camroom/internal/storage"
)

func setup(t *testing.T) (*storage.DB, string) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u, err := db.GetOrCreateUser("sub-alice", "")
	require.NoError(t, err)
	require.NoError(t, db.ClaimUsername(u.ID, "ALICE"))
	room, err := db.GetRoomByName("ALICE")
	require.NoError(t, err)
	return db, room.ID
}

func TestSubscribeDeliversPendingSnapshots(t *testing.T) {
	db, roomID := setup(t)

	alice := NewStoreMailbox(db, "ALICE")
	bob := NewStoreMailbox(db, "BOB")

	inbox, cancel := bob.Subscribe(roomID, "BOB")
	defer cancel()

	// Initial snapshot is empty.
	select {
	case envs := <-inbox:
		assert.Empty(t, envs)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	id, err := alice.Send(roomID, "BOB", KindOffer, "sdp-payload")
	require.NoError(t, err)

	var got []Envelope
	deadline := time.After(2 * time.Second)
	for len(got) == 0 {
		select {
		case got = <-inbox:
		case <-deadline:
			t.Fatal("offer never arrived")
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "ALICE", got[0].FromUsername)
	assert.Equal(t, KindOffer, got[0].Kind)
	assert.Equal(t, "sdp-payload", got[0].Payload)

	// Consumption deletes the row; the next snapshot is empty again.
	require.NoError(t, bob.Delete(id))
	empty := false
	deadline = time.After(2 * time.Second)
	for !empty {
		select {
		case envs := <-inbox:
			empty = len(envs) == 0
		case <-deadline:
			t.Fatal("delete snapshot never arrived")
		}
	}
}

func TestSubscribeOnlySeesOwnMail(t *testing.T) {
	db, roomID := setup(t)

	alice := NewStoreMailbox(db, "ALICE")
	carol := NewStoreMailbox(db, "CAROL")

	inbox, cancel := carol.Subscribe(roomID, "CAROL")
	defer cancel()

	_, err := alice.Send(roomID, "BOB", KindOffer, "not for carol")
	require.NoError(t, err)

	// Carol gets snapshots for the change, but they stay empty.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case envs := <-inbox:
			assert.Empty(t, envs)
		case <-deadline:
			return
		}
	}
}
