package mesh

import "log"

// Binder pairs remote streams with display surfaces. Streams arrive when
// sessions connect; surfaces mount and unmount as the UI pleases. Neither
// side orders before the other, so the binder holds both maps and binds
// whenever a pair exists.
//
// Binding is idempotent per (username, stream id): rebinding the same pair
// re-attaches if the surface lost its attachment (a remount) but never
// restarts playback setup.
type Binder struct {
	bindings map[string]string        // username -> bound stream id
	surfaces map[string]Surface       // username -> mounted surface
	streams  map[string]*RemoteStream // username -> latest stream
}

func newBinder() *Binder {
	return &Binder{
		bindings: make(map[string]string),
		surfaces: make(map[string]Surface),
		streams:  make(map[string]*RemoteStream),
	}
}

// Mount registers a surface for a participant. If that participant's stream
// is already here, it binds immediately.
func (b *Binder) Mount(username string, surface Surface) {
	b.surfaces[username] = surface
	if st := b.streams[username]; st != nil {
		b.bind(username, surface, st)
	}
}

// Unmount drops a participant's surface. The binding record survives, so a
// remount of the same stream re-attaches without a fresh playback setup.
func (b *Binder) Unmount(username string) {
	if s, ok := b.surfaces[username]; ok {
		s.Detach()
		delete(b.surfaces, username)
	}
}

// SetStream records a participant's stream and binds it if their surface is
// mounted.
func (b *Binder) SetStream(username string, stream *RemoteStream) {
	b.streams[username] = stream
	if s := b.surfaces[username]; s != nil {
		b.bind(username, s, stream)
	}
}

// Remove discards a participant's stream and binding when their session
// closes. A mounted surface stays registered, detached, ready for the
// stream of a future session.
func (b *Binder) Remove(username string) {
	if s, ok := b.surfaces[username]; ok {
		s.Detach()
	}
	delete(b.bindings, username)
	delete(b.streams, username)
}

func (b *Binder) bind(username string, surface Surface, stream *RemoteStream) {
	if b.bindings[username] == stream.ID() {
		if surface.Attached() == stream.ID() {
			return
		}
		// Remount of an already-bound stream: re-attach only.
		if err := surface.Attach(stream); err != nil {
			log.Printf("RENDER: re-attach %s: %v", username, err)
		}
		return
	}

	if err := surface.Attach(stream); err != nil {
		log.Printf("RENDER: attach %s: %v", username, err)
		return
	}
	b.bindings[username] = stream.ID()

	// A new viewer joins mid-GOP; without this the tile stays dark until
	// the next scheduled keyframe.
	if err := stream.RequestKeyframe(); err != nil {
		log.Printf("RENDER: keyframe request %s: %v", username, err)
	}
	if err := surface.Play(); err != nil {
		log.Printf("RENDER: play %s: %v", username, err)
	}
}
