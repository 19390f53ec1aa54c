package desktop

import (
	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/capture/coregraphics"
)

func openBackend(mode capture.Mode, o options) (capture.Backend, error) {
	return coregraphics.New(mode,
		coregraphics.WithFPS(o.fps),
		coregraphics.WithLoggerFactory(o.loggerFactory),
	), nil
}
