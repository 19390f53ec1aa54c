//go:build linux || freebsd || openbsd || netbsd || dragonfly

package desktop

import (
	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/capture/screen"
	"github.com/junsooki/deskcast/internal/capture/x11"
)

func openBackend(mode capture.Mode, o options) (capture.Backend, error) {
	if mode == capture.ModeWindow {
		return x11.New(x11.WithFPS(o.fps), x11.WithLoggerFactory(o.loggerFactory))
	}
	return screen.New(screen.WithFPS(o.fps), screen.WithLoggerFactory(o.loggerFactory)), nil
}
