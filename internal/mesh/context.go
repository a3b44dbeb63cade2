package mesh

// RoomContext owns all mutable per-visit state: the session map, the render
// binder, the consumed-signal set, and the outbound signal queue. It is only
// ever touched from the manager's event loop, so none of it is locked.
// Leaving the room discards the whole context; nothing survives a visit.
type RoomContext struct {
	Room   string // room name
	RoomID string
	Self   string

	sessions map[string]*Session // keyed by remote username
	binder   *Binder

	// consumed holds ids of signals already processed this visit. The
	// mailbox snapshot can redeliver a row before its delete lands; this
	// set keeps consumption exactly-once.
	consumed map[string]struct{}

	outbox []outboundSignal
}

type outboundSignal struct {
	to      string
	kind    string
	payload string
}

func newRoomContext(room, roomID, self string) *RoomContext {
	return &RoomContext{
		Room:     room,
		RoomID:   roomID,
		Self:     self,
		sessions: make(map[string]*Session),
		binder:   newBinder(),
		consumed: make(map[string]struct{}),
	}
}

func (c *RoomContext) queueSignal(to, kind, payload string) {
	c.outbox = append(c.outbox, outboundSignal{to: to, kind: kind, payload: payload})
}
