// Package signal carries WebRTC negotiation messages between room
// participants through the storage mailbox. There is no dedicated signaling
// channel: a signal is a short-lived database row addressed to its
// recipient, who deletes it after processing.
package signal

// ── Signal kind constants ─────────────────────────────────────────────────────
// Value of the kind column on every mailbox row.
//
// Negotiation sequence between two peers (smaller username initiates):
//
//	initiator                       responder
//	    │  offer (gathering done)       │
//	    ├───────────────────────────────▶
//	    │                        answer │
//	    ◀───────────────────────────────┤
//	    │  ice (late candidates, rare   │
//	    ◀──────── with non-trickle) ────▶
//
// Candidates are embedded in the offer/answer SDP because gathering
// completes before either is sent; standalone ice rows only appear for
// post-negotiation candidate updates.
const (
	KindOffer  = "offer"
	KindAnswer = "answer"
	KindICE    = "ice"
)

// Envelope is one pending signaling message. Immutable once written;
// consumed exactly once by the recipient, which deletes it afterwards.
// Payload is an opaque string produced and consumed by the peer-connection
// layer and passed through unmodified.
type Envelope struct {
	ID           string `json:"id"`
	RoomID       string `json:"room_id"`
	FromUsername string `json:"from_username"`
	ToUsername   string `json:"to_username"`
	Kind         string `json:"kind"`
	Payload      string `json:"payload"`
	CreatedAt    int64  `json:"created_at"`
}
