package mesh

import (
	"context"
	"log"
	"sort"

	"github.com/camroom/camroom/internal/config"
	"github.com/camroom/camroom/internal/signal"
)

// Manager runs the mesh for one room visit. It owns a single event loop;
// roster snapshots, mailbox snapshots, and completion events from async
// work all funnel into that loop, so session and binder state needs no
// locking.
type Manager struct {
	cfg      *config.Config
	roster   Roster
	mailbox  signal.Mailbox
	capture  *CaptureController
	newConn  connFactory
	maxPeers int

	ctx     *RoomContext
	cam     *Camera
	pending []signal.Envelope // latest mailbox snapshot
	events  chan event
}

// NewManager builds a mesh manager for one visit to a room. tier picks the
// tile budget; the mesh holds at most budget-1 sessions since one tile is
// the local preview.
func NewManager(cfg *config.Config, room, roomID, self, tier string,
	roster Roster, mailbox signal.Mailbox, capture *CaptureController) *Manager {
	return &Manager{
		cfg:      cfg,
		roster:   roster,
		mailbox:  mailbox,
		capture:  capture,
		newConn:  newPionConn,
		maxPeers: cfg.TileBudget(tier) - 1,
		ctx:      newRoomContext(room, roomID, self),
		events:   make(chan event, 64),
	}
}

// MountSurface hands a display surface to the binder. Safe from any
// goroutine; the mutation happens on the loop.
func (m *Manager) MountSurface(username string, surface Surface) {
	m.post(event{kind: evMount, username: username, surface: surface})
}

// UnmountSurface detaches and forgets a participant's surface.
func (m *Manager) UnmountSurface(username string) {
	m.post(event{kind: evUnmount, username: username})
}

// SetConfig swaps the config used for new sessions. Existing connections
// keep the settings they were built with.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.post(event{kind: evConfig, cfg: cfg})
}

// Run drives the visit until ctx is cancelled. It acquires the camera,
// reports its status, then loops over roster changes, inbound signals, and
// async completions. On return every session is closed and the camera
// released.
func (m *Manager) Run(ctx context.Context) error {
	cam, err := m.capture.Acquire()
	if err != nil {
		// View-only: no local stream means no sessions either way, the
		// visit continues as a spectator.
		log.Printf("MESH: no camera, joining view-only: %v", err)
	} else {
		m.cam = cam
		m.capture.Report(true)
	}
	defer m.capture.Release()
	defer m.closeAll()

	parts, cancelRoster := m.roster.Subscribe(m.ctx.Room)
	defer cancelRoster()
	inbound, cancelMail := m.mailbox.Subscribe(m.ctx.RoomID, m.ctx.Self)
	defer cancelMail()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ps, ok := <-parts:
			if !ok {
				return nil
			}
			m.reconcile(ps)
			m.dispatch()
			m.flushOutbox()
		case envs, ok := <-inbound:
			if !ok {
				return nil
			}
			m.pending = envs
			m.dispatch()
			m.flushOutbox()
		case ev := <-m.events:
			m.handleEvent(ev)
			m.flushOutbox()
		}
	}
}

// reconcile drives the session map toward the target set: every other
// online camera-on participant, capped by the tile budget. Idempotent on
// identical snapshots. Without a local stream there is no target set at
// all; a viewer does not negotiate.
func (m *Manager) reconcile(parts []Participant) {
	var target []string
	if m.cam != nil {
		for _, p := range parts {
			if p.Username == "" || p.Username == m.ctx.Self || !p.Online || !p.CameraOn {
				continue
			}
			target = append(target, p.Username)
		}
		// Deterministic under the cap: every peer over budget picks the
		// same survivors.
		sort.Strings(target)
		if len(target) > m.maxPeers {
			target = target[:m.maxPeers]
		}
	}

	want := make(map[string]struct{}, len(target))
	for _, name := range target {
		want[name] = struct{}{}
	}

	for name := range m.ctx.sessions {
		if _, ok := want[name]; !ok {
			m.teardown(name, "left target set")
		}
	}

	for _, name := range target {
		if _, ok := m.ctx.sessions[name]; ok {
			continue
		}
		s := newSession(name, RoleFor(m.ctx.Self, name))
		pc, err := m.newConn(m, s)
		if err != nil {
			// Not recorded in the map; the next snapshot retries.
			log.Printf("MESH: create connection to %s: %v", name, err)
			continue
		}
		s.pc = pc
		m.ctx.sessions[name] = s
		log.Printf("MESH: session with %s as %s", name, s.role)
		s.start(m)
	}
}

// dispatch routes the pending mailbox snapshot. Consumed envelopes are
// tracked locally so a redelivered row is deleted without reprocessing;
// envelopes for peers with no session yet stay pending for a later pass.
func (m *Manager) dispatch() {
	for _, env := range m.pending {
		if _, done := m.ctx.consumed[env.ID]; done {
			m.deleteEnvelope(env.ID)
			continue
		}
		s, ok := m.ctx.sessions[env.FromUsername]
		if !ok {
			// Their signal beat our roster snapshot; a session for them
			// is likely one reconcile away.
			log.Printf("MESH: no session for %s yet, leaving %s pending", env.FromUsername, env.Kind)
			continue
		}
		err := s.handleSignal(m, env.Kind, env.Payload)
		m.ctx.consumed[env.ID] = struct{}{}
		m.deleteEnvelope(env.ID)
		if err != nil {
			log.Printf("MESH: %s from %s: %v", env.Kind, env.FromUsername, err)
			m.fail(s)
		}
	}
}

// handleEvent applies one async completion. Every path revalidates that the
// originating session is still the current one for its peer; work finishing
// after a teardown is discarded.
func (m *Manager) handleEvent(ev event) {
	switch ev.kind {
	case evMount:
		m.ctx.binder.Mount(ev.username, ev.surface)
		return
	case evUnmount:
		m.ctx.binder.Unmount(ev.username)
		return
	case evConfig:
		m.cfg = ev.cfg
		return
	}

	cur, ok := m.ctx.sessions[ev.sess.remote]
	if !ok || cur != ev.sess {
		log.Printf("MESH: discarding stale %v event for %s", ev.kind, ev.sess.remote)
		return
	}

	switch ev.kind {
	case evLocalDesc:
		if ev.err != nil {
			log.Printf("MESH: produce %s for %s: %v", ev.sigKind, ev.sess.remote, ev.err)
			m.fail(ev.sess)
			return
		}
		if ev.sigKind == signal.KindAnswer {
			// The answer exists, so the remote offer is applied; candidates
			// buffered during answer production can land now.
			ev.sess.haveRemote = true
			ev.sess.flushPendingICE()
		}
		m.ctx.queueSignal(ev.sess.remote, ev.sigKind, ev.payload)
	case evStream:
		ev.sess.remoteStream = ev.stream
		ev.sess.state = StateConnected
		log.Printf("MESH: stream from %s", ev.sess.remote)
		m.ctx.binder.SetStream(ev.sess.remote, ev.stream)
	case evConnected:
		log.Printf("MESH: transport to %s connected", ev.sess.remote)
	case evFailed:
		log.Printf("MESH: transport to %s failed: %v", ev.sess.remote, ev.err)
		m.fail(ev.sess)
	}
}

// flushOutbox sends queued signals, keeping failures queued for the next
// pass. Artifacts addressed to a peer whose session died in the meantime
// are dropped.
func (m *Manager) flushOutbox() {
	var remaining []outboundSignal
	for _, o := range m.ctx.outbox {
		if _, ok := m.ctx.sessions[o.to]; !ok {
			continue
		}
		if _, err := m.mailbox.Send(m.ctx.RoomID, o.to, o.kind, o.payload); err != nil {
			log.Printf("MESH: send %s to %s: %v", o.kind, o.to, err)
			remaining = append(remaining, o)
		}
	}
	m.ctx.outbox = remaining
}

// fail marks a session failed and tears it down. The peer stays in the
// target set, so the next roster snapshot may create a fresh session.
func (m *Manager) fail(s *Session) {
	s.state = StateFailed
	m.teardown(s.remote, "negotiation failed")
}

// teardown removes a session from the map, closes it, and releases its
// binder state. Removing first guarantees late completions from this
// session fail the staleness check.
func (m *Manager) teardown(remote, reason string) {
	s, ok := m.ctx.sessions[remote]
	if !ok {
		return
	}
	delete(m.ctx.sessions, remote)
	log.Printf("MESH: closing session with %s: %s", remote, reason)
	s.close()
	m.ctx.binder.Remove(remote)
}

func (m *Manager) closeAll() {
	for remote := range m.ctx.sessions {
		m.teardown(remote, "leaving room")
	}
}

// deleteEnvelope removes a consumed mailbox row. Failures are logged only;
// retention cleanup collects whatever the delete misses.
func (m *Manager) deleteEnvelope(id string) {
	if err := m.mailbox.Delete(id); err != nil {
		log.Printf("MESH: delete signal %s: %v", id, err)
	}
}

// post delivers an event into the loop without blocking the caller forever;
// the loop drains fast and the channel is deep, so a full channel means the
// loop is gone and the event is moot.
func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("MESH: event loop saturated, dropping %v event", ev.kind)
	}
}
