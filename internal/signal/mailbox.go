package signal

import (
	"log"
	"time"

	"github.com/camroom/camroom/internal/storage"
)

// Retention is how long an unconsumed signal stays in the mailbox before
// cleanup. It bounds the retry window for signals addressed to a peer that
// never picked them up.
const Retention = time.Minute

// Mailbox is the only surface the mesh needs from the signaling layer.
type Mailbox interface {
	// Send writes a signal addressed to a user and returns the envelope id.
	Send(roomID, toUsername, kind, payload string) (string, error)

	// Subscribe delivers the full pending inbound list for a recipient,
	// once immediately and again after every mailbox change in the room.
	Subscribe(roomID, toUsername string) (<-chan []Envelope, func())

	// Delete removes a consumed envelope. Idempotent.
	Delete(id string) error
}

// StoreMailbox is the storage-backed Mailbox.
type StoreMailbox struct {
	db   *storage.DB
	self string
}

// NewStoreMailbox creates a mailbox writing as the given username.
func NewStoreMailbox(db *storage.DB, selfUsername string) *StoreMailbox {
	return &StoreMailbox{db: db, self: selfUsername}
}

func (m *StoreMailbox) Send(roomID, toUsername, kind, payload string) (string, error) {
	return m.db.InsertSignal(roomID, m.self, toUsername, kind, payload)
}

func (m *StoreMailbox) Delete(id string) error {
	return m.db.DeleteSignal(id)
}

// Subscribe re-queries the pending set on every signals change. The channel
// carries snapshots, not deltas: a missed notification is harmless because
// the next one delivers the same pending rows again.
func (m *StoreMailbox) Subscribe(roomID, toUsername string) (<-chan []Envelope, func()) {
	out := make(chan []Envelope, 8)
	changes, cancelChanges := m.db.SubscribeRoom(roomID)
	done := make(chan struct{})

	push := func() {
		rows, err := m.db.SignalsFor(roomID, toUsername)
		if err != nil {
			log.Printf("SIGNAL: query pending: %v", err)
			return
		}
		envs := make([]Envelope, len(rows))
		for i, r := range rows {
			envs[i] = Envelope(r)
		}
		select {
		case out <- envs:
		default:
		}
	}

	go func() {
		push()
		for {
			select {
			case <-done:
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				if ch.Table != "signals" {
					continue
				}
				push()
			}
		}
	}()

	cancel := func() {
		close(done)
		cancelChanges()
	}
	return out, cancel
}

// StartCleanup purges expired signals for a room on a ticker until stop is
// closed. The mailbox itself has no TTL; this is the retention policy.
func (m *StoreMailbox) StartCleanup(roomID string, stop <-chan struct{}) {
	go func() {
		t := time.NewTicker(Retention / 2)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if n, err := m.db.PurgeExpiredSignals(roomID, Retention); err != nil {
					log.Printf("SIGNAL: purge expired: %v", err)
				} else if n > 0 {
					log.Printf("SIGNAL: purged %d expired signals", n)
				}
			}
		}
	}()
}
