package mesh

import (
	"log"

	"github.com/camroom/camroom/internal/signal"
)

// peerConn is the slice of a peer connection the session state machine
// needs. The production implementation wraps Pion; tests substitute a fake
// so negotiation logic runs without media.
//
// CreateOffer and CreateAnswer gather ICE candidates to completion before
// returning, so the payloads they produce are complete descriptions and the
// sole negotiation artifact each side must send.
type peerConn interface {
	CreateOffer() (string, error)
	CreateAnswer(offerPayload string) (string, error)
	AcceptAnswer(answerPayload string) error
	AddCandidate(payload string) error
	Close() error
}

// connFactory builds the peer connection for a new session.
type connFactory func(m *Manager, s *Session) (peerConn, error)

// Session is the negotiation state machine for one remote peer. All fields
// are owned by the manager loop; the only code running off-loop is the
// blocking offer/answer production, which reports back via events.
type Session struct {
	remote string
	role   Role
	state  SessionState
	pc     peerConn

	// haveRemote is set once the remote description has actually been
	// applied: synchronously for the initiator's answer, on answer
	// completion for the responder. Candidates keep buffering until then.
	haveRemote bool

	// pendingICE buffers candidates that arrived before the remote
	// description. Applying them early is an error in every WebRTC stack.
	pendingICE []string

	remoteStream *RemoteStream
}

func newSession(remote string, role Role) *Session {
	return &Session{remote: remote, role: role, state: StateNew}
}

// Remote returns the remote peer's username.
func (s *Session) Remote() string { return s.remote }

// State returns the session's current state.
func (s *Session) State() SessionState { return s.state }

// start kicks off negotiation. Initiators produce an offer; responders wait
// for one to arrive through the mailbox.
func (s *Session) start(m *Manager) {
	if s.role != Initiator {
		return
	}
	s.state = StateNegotiating
	go func() {
		payload, err := s.pc.CreateOffer()
		m.post(event{kind: evLocalDesc, sess: s, sigKind: signal.KindOffer, payload: payload, err: err})
	}()
}

// handleSignal applies one inbound envelope. A returned error fails the
// session; mis-sequenced or duplicate envelopes are dropped silently, since
// the mailbox can redeliver and peers can race.
func (s *Session) handleSignal(m *Manager, kind, payload string) error {
	switch kind {
	case signal.KindOffer:
		if s.role != Responder || s.state != StateNew {
			log.Printf("MESH: dropping surplus offer from %s", s.remote)
			return nil
		}
		s.state = StateNegotiating
		go func() {
			answer, err := s.pc.CreateAnswer(payload)
			m.post(event{kind: evLocalDesc, sess: s, sigKind: signal.KindAnswer, payload: answer, err: err})
		}()
		return nil

	case signal.KindAnswer:
		if s.role != Initiator || s.haveRemote {
			log.Printf("MESH: dropping surplus answer from %s", s.remote)
			return nil
		}
		if err := s.pc.AcceptAnswer(payload); err != nil {
			return err
		}
		s.haveRemote = true
		s.flushPendingICE()
		return nil

	case signal.KindICE:
		if !s.haveRemote {
			s.pendingICE = append(s.pendingICE, payload)
			return nil
		}
		if err := s.pc.AddCandidate(payload); err != nil {
			// A bad candidate degrades connectivity but does not doom the
			// negotiation; the transport decides that.
			log.Printf("MESH: candidate from %s: %v", s.remote, err)
		}
		return nil

	default:
		log.Printf("MESH: unknown signal kind %q from %s", kind, s.remote)
		return nil
	}
}

// flushPendingICE applies candidates buffered while the remote description
// was pending. Individual failures degrade connectivity, not the session.
func (s *Session) flushPendingICE() {
	for _, c := range s.pendingICE {
		if err := s.pc.AddCandidate(c); err != nil {
			log.Printf("MESH: buffered candidate from %s: %v", s.remote, err)
		}
	}
	s.pendingICE = nil
}

// close shuts the transport and releases the stream. Terminal.
func (s *Session) close() {
	s.state = StateClosed
	s.remoteStream = nil
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			log.Printf("MESH: closing connection to %s: %v", s.remote, err)
		}
	}
}
