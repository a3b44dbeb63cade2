// Package mesh establishes and maintains the full-mesh video connections
// among the camera-on participants of one room. Every client runs its own
// mesh manager; there is no central coordinator. Signaling travels through
// the storage mailbox, media through Pion peer connections.
package mesh

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/camroom/camroom/internal/config"
)

// Participant is the slice of a room membership the mesh cares about.
type Participant struct {
	Username string
	CameraOn bool
	Online   bool
}

// Roster is the mesh's view of the live participant list. Implemented by an
// adapter over storage; faked in tests.
type Roster interface {
	// Subscribe delivers participant-list snapshots for a room, once
	// immediately and again on every change.
	Subscribe(room string) (<-chan []Participant, func())

	// SetCamera reports the local camera flag to the participant record.
	SetCamera(room string, on bool) error
}

// Role is one of the two deterministic sides of a negotiation. The
// lexicographically smaller username initiates, so both peers agree on
// their roles without coordination.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// RoleFor returns the local role for a session with remote.
func RoleFor(self, remote string) Role {
	if self < remote {
		return Initiator
	}
	return Responder
}

// SessionState is the tagged state of one peer session.
type SessionState int

const (
	StateNew SessionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteStream is one remote participant's video, owned by the session that
// received it until that session closes.
type RemoteStream struct {
	id    string
	track *webrtc.TrackRemote
	pc    *webrtc.PeerConnection
}

func newRemoteStream(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) *RemoteStream {
	return &RemoteStream{id: track.StreamID(), track: track, pc: pc}
}

// ID is the stream identity used for idempotent surface binding.
func (s *RemoteStream) ID() string {
	return s.id
}

// Track returns the underlying RTP track. Nil for streams built in tests.
func (s *RemoteStream) Track() *webrtc.TrackRemote {
	return s.track
}

// RequestKeyframe asks the sender for a full frame via RTCP PLI, so a
// freshly attached surface does not wait out the keyframe interval showing
// nothing.
func (s *RemoteStream) RequestKeyframe() error {
	if s.pc == nil || s.track == nil {
		return nil
	}
	return s.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(s.track.SSRC())},
	})
}

// Surface is a display target for one participant's stream. Surfaces mount
// and unmount independently of stream arrival; the binder reconciles the
// two sides.
type Surface interface {
	// Attach points the surface at a stream. Replaces any prior attachment.
	Attach(stream *RemoteStream) error

	// Attached returns the id of the currently attached stream, or "".
	Attached() string

	// Play begins playback. Called once per new binding; failures are
	// logged by the binder, never fatal.
	Play() error

	// Detach drops the surface's stream reference.
	Detach()
}

// event is one message delivered into the manager's single event loop.
// Pion callbacks and async negotiation steps never touch shared state
// directly; they post events here instead.
type event struct {
	kind eventKind
	sess *Session // originating session, for the staleness check

	sigKind string // evLocalDesc: outbound artifact kind
	payload string // evLocalDesc: outbound artifact payload
	err     error

	stream *RemoteStream // evStream

	username string  // evMount / evUnmount
	surface  Surface // evMount

	cfg *config.Config // evConfig
}

type eventKind int

const (
	evLocalDesc eventKind = iota // async offer/answer production finished
	evStream                     // remote track arrived
	evConnected                  // transport reached connected
	evFailed                     // transport failed
	evMount                      // a display surface mounted
	evUnmount                    // a display surface unmounted
	evConfig                     // config reloaded; applies to new sessions
)
