//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package desktop

import (
	"fmt"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/capture/screen"
)

func openBackend(mode capture.Mode, o options) (capture.Backend, error) {
	if mode == capture.ModeWindow {
		return nil, fmt.Errorf("%w: window capture", ErrUnsupported)
	}
	return screen.New(screen.WithFPS(o.fps), screen.WithLoggerFactory(o.loggerFactory)), nil
}
