// Package desktop builds a capture session on the backend that fits the
// running platform and capture mode.
package desktop

import (
	"errors"
	"fmt"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/permissions"
	"github.com/pion/logging"
)

var (
	// ErrUnavailable means no session could be built; the wrapped error
	// says why.
	ErrUnavailable = errors.New("desktop: capture unavailable")
	// ErrUnsupported means the platform has no backend for the mode.
	ErrUnsupported = errors.New("desktop: capture mode not supported on this platform")
)

const defaultFPS = 30

type options struct {
	fps           int
	loggerFactory logging.LoggerFactory
}

type Option func(*options)

// WithFPS sets the rate of push-mode capture, 1..60.
func WithFPS(fps int) Option {
	return func(o *options) {
		o.fps = fps
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) {
		o.loggerFactory = f
	}
}

// checkPermission is replaced in tests.
var checkPermission = permissions.ScreenCapture

// NewCapturer returns a session that reports to cb, capturing monitors or
// windows depending on mode. On failure the session is nil and the error
// wraps ErrUnavailable.
func NewCapturer(cb capture.Callback, mode capture.Mode, opts ...Option) (*capture.Session, error) {
	o := options{fps: defaultFPS}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loggerFactory == nil {
		o.loggerFactory = logging.NewDefaultLoggerFactory()
	}

	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", ErrUnavailable)
	}
	if o.fps < 1 || o.fps > 60 {
		return nil, fmt.Errorf("%w: fps must be 1-60, got %d", ErrUnavailable, o.fps)
	}
	if mode != capture.ModeScreen && mode != capture.ModeWindow {
		return nil, fmt.Errorf("%w: %w: %s", ErrUnavailable, ErrUnsupported, mode)
	}
	if err := checkPermission(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	backend, err := openBackend(mode, o)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	session, err := capture.NewSession(cb, backend, mode, capture.WithLoggerFactory(o.loggerFactory))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return session, nil
}
