package mesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// webm.go — pure-Go EBML/WebM encoding plus FileSurface, a Surface that
// records a remote VP8 stream to disk instead of displaying it. One cluster
// per frame, keyframe-aligned, so the files play in anything that speaks
// WebM.

// ─── EBML encoding helpers ───────────────────────────────────────────────────

// ebmlVint encodes v as an EBML variable-length integer for element sizes.
// Valid range: 0..268435454 (4-byte max, sufficient for any WebM element
// written here).
func ebmlVint(v uint64) []byte {
	switch {
	case v < 0x7F:
		return []byte{byte(0x80 | v)}
	case v < 0x3FFF:
		return []byte{byte(0x40 | (v >> 8)), byte(v)}
	case v < 0x1FFFFF:
		return []byte{byte(0x20 | (v >> 16)), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(0x10 | (v >> 24)), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// ebmlUnkSize is the 8-byte unknown-size marker for the streaming Segment
// element, whose length is not known while recording.
var ebmlUnkSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func ebmlElem(id, data []byte) []byte {
	b := make([]byte, 0, len(id)+8+len(data))
	b = append(b, id...)
	b = append(b, ebmlVint(uint64(len(data)))...)
	return append(b, data...)
}

// ebmlUint encodes an unsigned integer in the minimal number of big-endian
// bytes.
func ebmlUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func ebmlConcat(slices ...[]byte) []byte {
	n := 0
	for _, s := range slices {
		n += len(s)
	}
	b := make([]byte, 0, n)
	for _, s := range slices {
		b = append(b, s...)
	}
	return b
}

// ─── Element IDs ─────────────────────────────────────────────────────────────

var (
	idEBML         = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion  = []byte{0x42, 0x86}
	idEBMLReadVer  = []byte{0x42, 0xF7}
	idEBMLMaxIDLen = []byte{0x42, 0xF2}
	idEBMLMaxSzLen = []byte{0x42, 0xF3}
	idDocType      = []byte{0x42, 0x82}
	idDocTypeVer   = []byte{0x42, 0x87}
	idDocTypeRdVer = []byte{0x42, 0x85}
	idSegment      = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo         = []byte{0x15, 0x49, 0xA9, 0x66}
	idTcScale      = []byte{0x2A, 0xD7, 0xB1}
	idMuxApp       = []byte{0x4D, 0x80}
	idWrtApp       = []byte{0x57, 0x41}
	idTracks       = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry   = []byte{0xAE}
	idTrackNum     = []byte{0xD7}
	idTrackUID     = []byte{0x73, 0xC5}
	idTrackType    = []byte{0x83}
	idCodecID      = []byte{0x86}
	idVideo        = []byte{0xE0}
	idPixelW       = []byte{0xB0}
	idPixelH       = []byte{0xBA}
	idCluster      = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode     = []byte{0xE7}
	idSimpleBlock  = []byte{0xA3}
)

// webmInitSegment returns the initialisation segment for a video-only VP8
// recording: EBML header + Segment (unknown size) + Info + Tracks.
func webmInitSegment(videoW, videoH uint16) []byte {
	var buf bytes.Buffer

	ebmlBody := ebmlConcat(
		ebmlElem(idEBMLVersion, ebmlUint(1)),
		ebmlElem(idEBMLReadVer, ebmlUint(1)),
		ebmlElem(idEBMLMaxIDLen, ebmlUint(4)),
		ebmlElem(idEBMLMaxSzLen, ebmlUint(8)),
		ebmlElem(idDocType, []byte("webm")),
		ebmlElem(idDocTypeVer, ebmlUint(2)),
		ebmlElem(idDocTypeRdVer, ebmlUint(2)),
	)
	buf.Write(ebmlElem(idEBML, ebmlBody))

	buf.Write(idSegment)
	buf.Write(ebmlUnkSize)

	infoBody := ebmlConcat(
		ebmlElem(idTcScale, ebmlUint(1000000)), // 1 ms per timecode unit
		ebmlElem(idMuxApp, []byte("camroom")),
		ebmlElem(idWrtApp, []byte("camroom")),
	)
	buf.Write(ebmlElem(idInfo, infoBody))

	videoBody := ebmlConcat(
		ebmlElem(idPixelW, ebmlUint(uint64(videoW))),
		ebmlElem(idPixelH, ebmlUint(uint64(videoH))),
	)
	videoEntry := ebmlConcat(
		ebmlElem(idTrackNum, ebmlUint(1)),
		ebmlElem(idTrackUID, ebmlUint(1)),
		ebmlElem(idTrackType, ebmlUint(1)), // 1 = video
		ebmlElem(idCodecID, []byte("V_VP8")),
		ebmlElem(idVideo, videoBody),
	)
	buf.Write(ebmlElem(idTracks, ebmlElem(idTrackEntry, videoEntry)))
	return buf.Bytes()
}

// webmCluster builds a complete Cluster element with known size.
func webmCluster(clusterMs int64, blocks []byte) []byte {
	tcElem := ebmlElem(idTimecode, ebmlUint(uint64(clusterMs)))
	return ebmlElem(idCluster, ebmlConcat(tcElem, blocks))
}

// webmSimpleBlock encodes one SimpleBlock for the video track. relMs is the
// timecode relative to cluster start.
func webmSimpleBlock(relMs int16, keyframe bool, data []byte) []byte {
	trackVint := ebmlVint(1)
	var flags byte
	if keyframe {
		flags = 0x80
	}
	content := make([]byte, len(trackVint)+2+1+len(data))
	copy(content, trackVint)
	binary.BigEndian.PutUint16(content[len(trackVint):], uint16(relMs))
	content[len(trackVint)+2] = flags
	copy(content[len(trackVint)+3:], data)
	return ebmlElem(idSimpleBlock, content)
}

// vp8Keyframe reports whether a VP8 frame is a keyframe (P bit clear).
func vp8Keyframe(data []byte) bool {
	return len(data) > 0 && data[0]&0x01 == 0
}

// vp8Dimensions reads width and height from a VP8 keyframe header. Returns
// ok=false when the start code is absent.
func vp8Dimensions(data []byte) (w, h uint16, ok bool) {
	if len(data) < 10 || data[3] != 0x9D || data[4] != 0x01 || data[5] != 0x2A {
		return 0, 0, false
	}
	w = binary.LittleEndian.Uint16(data[6:8]) & 0x3FFF
	h = binary.LittleEndian.Uint16(data[8:10]) & 0x3FFF
	return w, h, true
}

// ─── FileSurface ─────────────────────────────────────────────────────────────

// FileSurface records the attached stream to <dir>/<username>-<unix>.webm.
// It satisfies Surface, so the binder treats recording exactly like display:
// idempotent binding, remount re-attach, playback setup once.
type FileSurface struct {
	dir      string
	username string

	mu      sync.Mutex
	stream  *RemoteStream
	stop    chan struct{}
	playing bool
}

// NewFileSurface records streams bound to username under dir.
func NewFileSurface(dir, username string) *FileSurface {
	return &FileSurface{dir: dir, username: username}
}

func (f *FileSurface) Attach(stream *RemoteStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = stream
	return nil
}

func (f *FileSurface) Attached() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stream == nil {
		return ""
	}
	return f.stream.ID()
}

func (f *FileSurface) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playing {
		return nil
	}
	if f.stream == nil || f.stream.Track() == nil {
		return fmt.Errorf("record %s: no track attached", f.username)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("record %s: %w", f.username, err)
	}
	name := fmt.Sprintf("%s-%d.webm", f.username, time.Now().Unix())
	out, err := os.Create(filepath.Join(f.dir, name))
	if err != nil {
		return fmt.Errorf("record %s: %w", f.username, err)
	}
	f.stop = make(chan struct{})
	f.playing = true
	go f.record(out, f.stream, f.stop)
	log.Printf("RECORD: %s -> %s", f.username, name)
	return nil
}

func (f *FileSurface) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
	f.stream = nil
	f.playing = false
}

// record depacketizes the track's RTP into VP8 frames and writes them as
// one-frame clusters. Runs until the track errors (session closed) or stop
// closes. Writing starts at the first keyframe; the dimensions come from
// its header.
func (f *FileSurface) record(out *os.File, stream *RemoteStream, stop <-chan struct{}) {
	defer out.Close()

	builder := samplebuilder.New(32, &codecs.VP8Packet{}, 90000)
	var (
		started bool
		baseTs  uint32
		baseSet bool
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		pkt, _, err := stream.Track().ReadRTP()
		if err != nil {
			log.Printf("RECORD: %s track ended: %v", f.username, err)
			return
		}
		builder.Push(pkt)

		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			key := vp8Keyframe(sample.Data)
			if !started {
				if !key {
					continue
				}
				w, h, ok := vp8Dimensions(sample.Data)
				if !ok {
					w, h = 640, 360
				}
				if _, err := out.Write(webmInitSegment(w, h)); err != nil {
					log.Printf("RECORD: %s write init: %v", f.username, err)
					return
				}
				started = true
			}
			if !baseSet {
				baseTs = sample.PacketTimestamp
				baseSet = true
			}
			// RTP video clock is 90 kHz; timecode scale is 1 ms.
			tsMs := int64(sample.PacketTimestamp-baseTs) / 90
			block := webmSimpleBlock(0, key, sample.Data)
			if _, err := out.Write(webmCluster(tsMs, block)); err != nil {
				log.Printf("RECORD: %s write cluster: %v", f.username, err)
				return
			}
		}
	}
}
