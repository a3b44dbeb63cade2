package mesh

import (
	"log"

	"github.com/pion/mediadevices"

	"github.com/camroom/camroom/internal/config"
)

// Camera is the local capture pipeline: the media stream plus the codec
// selector the peer connections need to register the matching encoder.
type Camera struct {
	id       string
	stream   mediadevices.MediaStream
	selector *mediadevices.CodecSelector
}

// ID identifies the local stream for self-preview binding.
func (c *Camera) ID() string { return c.id }

// Close stops every capture track. Idempotent.
func (c *Camera) Close() {
	if c.stream == nil {
		return
	}
	for _, t := range c.stream.GetTracks() {
		t.Close()
	}
	c.stream = nil
}

// CaptureController owns the camera for one room visit and reports its
// status to the participant record. Status reporting is a latch: each
// transition is reported at most once, no matter how many times callers
// poke it.
type CaptureController struct {
	room   string
	roster Roster
	media  config.Media

	cam      *Camera
	reported *bool // last status successfully reported, nil = never
}

// NewCaptureController builds a controller for one visit.
func NewCaptureController(room string, roster Roster, media config.Media) *CaptureController {
	return &CaptureController{room: room, roster: roster, media: media}
}

// Acquire opens the camera, once per visit. Subsequent calls return the
// same camera. Failure means the visit runs view-only; the caller decides
// that, not the controller.
func (c *CaptureController) Acquire() (*Camera, error) {
	if c.cam != nil {
		return c.cam, nil
	}
	cam, err := acquireCamera(c.media)
	if err != nil {
		return nil, err
	}
	c.cam = cam
	log.Printf("CAPTURE: camera open, stream %s", cam.id)
	return cam, nil
}

// Report latches the camera flag onto the participant record. A repeat of
// the already-reported status is a no-op; a failed report stays unlatched
// so the next call retries.
func (c *CaptureController) Report(on bool) {
	if c.reported != nil && *c.reported == on {
		return
	}
	if err := c.roster.SetCamera(c.room, on); err != nil {
		log.Printf("CAPTURE: report camera=%v: %v", on, err)
		return
	}
	c.reported = &on
	log.Printf("CAPTURE: reported camera=%v", on)
}

// Release closes the camera and, if an on-status was ever reported, reports
// off. A visit that never turned its camera on reports nothing on the way
// out.
func (c *CaptureController) Release() {
	if c.cam != nil {
		c.cam.Close()
		c.cam = nil
	}
	if c.reported != nil && *c.reported {
		c.Report(false)
	}
}
