//go:build linux

package mesh

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/camroom/camroom/internal/config"
)

// acquireCamera opens the V4L2 camera as a video-only VP8 stream. There is
// no audio path anywhere in the room media pipeline.
func acquireCamera(media config.Media) (*Camera, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = media.BitRateKbs * 1000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames, which poisons the VP8 encoder.
			// Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: media.Width}
			c.Height = prop.IntRanged{Max: media.Height}
			c.FrameRate = prop.FloatRanged{Max: float32(media.FrameRate)}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, fmt.Errorf("open camera: stream has no video track")
	}

	return &Camera{id: tracks[0].ID(), stream: stream, selector: selector}, nil
}
