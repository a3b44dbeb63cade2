//go:build !linux

package mesh

import (
	"errors"

	"github.com/camroom/camroom/internal/config"
)

// ErrNoCamera is returned on platforms without a capture backend. The visit
// proceeds view-only.
var ErrNoCamera = errors.New("camera capture not supported on this platform")

func acquireCamera(config.Media) (*Camera, error) {
	return nil, ErrNoCamera
}
