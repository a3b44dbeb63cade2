package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSurface counts the binder's calls.
type fakeSurface struct {
	attachedID string
	attaches   int
	plays      int
	detaches   int
	failAttach bool
}

func (s *fakeSurface) Attach(stream *RemoteStream) error {
	if s.failAttach {
		return assert.AnError
	}
	s.attaches++
	s.attachedID = stream.ID()
	return nil
}

func (s *fakeSurface) Attached() string { return s.attachedID }

func (s *fakeSurface) Play() error {
	s.plays++
	return nil
}

func (s *fakeSurface) Detach() {
	s.detaches++
	s.attachedID = ""
}

func TestBinderBindsInEitherOrder(t *testing.T) {
	t.Run("surface first", func(t *testing.T) {
		b := newBinder()
		surface := &fakeSurface{}
		b.Mount("ALICE", surface)
		assert.Empty(t, surface.attachedID)

		b.SetStream("ALICE", &RemoteStream{id: "s1"})
		assert.Equal(t, "s1", surface.attachedID)
		assert.Equal(t, 1, surface.plays)
	})

	t.Run("stream first", func(t *testing.T) {
		b := newBinder()
		b.SetStream("ALICE", &RemoteStream{id: "s1"})

		surface := &fakeSurface{}
		b.Mount("ALICE", surface)
		assert.Equal(t, "s1", surface.attachedID)
		assert.Equal(t, 1, surface.plays)
	})
}

func TestBinderRebindIsIdempotent(t *testing.T) {
	b := newBinder()
	surface := &fakeSurface{}
	stream := &RemoteStream{id: "s1"}

	b.Mount("ALICE", surface)
	b.SetStream("ALICE", stream)
	b.SetStream("ALICE", stream)
	b.Mount("ALICE", surface)

	assert.Equal(t, 1, surface.attaches)
	assert.Equal(t, 1, surface.plays)
}

func TestBinderRemountReattachesWithoutReplay(t *testing.T) {
	b := newBinder()
	surface := &fakeSurface{}
	stream := &RemoteStream{id: "s1"}

	b.Mount("ALICE", surface)
	b.SetStream("ALICE", stream)
	assert.Equal(t, 1, surface.plays)

	// The tile unmounts and remounts; the stream never changed.
	b.Unmount("ALICE")
	assert.Equal(t, 1, surface.detaches)

	b.Mount("ALICE", surface)
	assert.Equal(t, "s1", surface.attachedID)
	assert.Equal(t, 2, surface.attaches)
	assert.Equal(t, 1, surface.plays, "remount must not restart playback setup")
}

func TestBinderNewStreamRebindsWithPlayback(t *testing.T) {
	b := newBinder()
	surface := &fakeSurface{}

	b.Mount("ALICE", surface)
	b.SetStream("ALICE", &RemoteStream{id: "s1"})
	b.SetStream("ALICE", &RemoteStream{id: "s2"})

	assert.Equal(t, "s2", surface.attachedID)
	assert.Equal(t, 2, surface.plays, "a new stream identity is a new binding")
}

func TestBinderRemoveKeepsSurfaceForNextSession(t *testing.T) {
	b := newBinder()
	surface := &fakeSurface{}

	b.Mount("ALICE", surface)
	b.SetStream("ALICE", &RemoteStream{id: "s1"})
	b.Remove("ALICE")
	assert.Equal(t, 1, surface.detaches)

	// A reconnect delivers a fresh stream; the mounted surface picks it up.
	b.SetStream("ALICE", &RemoteStream{id: "s2"})
	assert.Equal(t, "s2", surface.attachedID)
	assert.Equal(t, 2, surface.plays)
}

func TestBinderAttachFailureLeavesBindingUnset(t *testing.T) {
	b := newBinder()
	surface := &fakeSurface{failAttach: true}

	b.Mount("ALICE", surface)
	b.SetStream("ALICE", &RemoteStream{id: "s1"})
	assert.Empty(t, b.bindings["ALICE"])

	// Surface recovers; the next stream event binds normally.
	surface.failAttach = false
	b.SetStream("ALICE", &RemoteStream{id: "s1"})
	assert.Equal(t, "s1", surface.attachedID)
	assert.Equal(t, 1, surface.plays)
}
