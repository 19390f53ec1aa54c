// Package pipeline connects a capture session to a media.VideoSource.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/media"
	"github.com/junsooki/deskcast/internal/yuv"
	"github.com/pion/logging"
)

// ErrCapturePermanent is reported by Err when the backend gave up.
var ErrCapturePermanent = errors.New("pipeline: capture failed permanently")

// Stats counts what the bridge did with capture results.
type Stats struct {
	FramesForwarded uint64
	TemporaryErrors uint64
	FramesDropped   uint64
}

type Option func(*Bridge)

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(b *Bridge) {
		if f != nil {
			b.log = f.NewLogger("pipeline")
		}
	}
}

// WithClock replaces time.Now for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// Bridge converts every captured frame to I420 in one shared buffer and
// pushes it to a VideoSource. Its Callback must be registered with exactly
// one capture session, which serializes the calls.
type Bridge struct {
	source *media.VideoSource
	shared *media.SharedFrame
	log    logging.LeveledLogger
	now    func() time.Time

	// Only touched from the callback.
	first  time.Time
	lastTs int64
	seen   bool

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	forwarded atomic.Uint64
	temporary atomic.Uint64
	dropped   atomic.Uint64
}

// NewBridge allocates the shared frame at the source's resolution.
func NewBridge(source *media.VideoSource, opts ...Option) (*Bridge, error) {
	if source == nil {
		return nil, errors.New("pipeline: nil video source")
	}
	shared, err := media.NewSharedFrame(source.Resolution())
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		source: source,
		shared: shared,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.NewDefaultLoggerFactory().NewLogger("pipeline")
	}
	return b, nil
}

// Callback returns the function to hand to the capture session.
func (b *Bridge) Callback() capture.Callback {
	return b.onCapture
}

// Done is closed once the stream has ended, either because the backend
// stopped or because a frame could not be converted.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err explains why Done was closed. It is nil while running and after the
// user stopped the capture.
func (b *Bridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

func (b *Bridge) Stats() Stats {
	return Stats{
		FramesForwarded: b.forwarded.Load(),
		TemporaryErrors: b.temporary.Load(),
		FramesDropped:   b.dropped.Load(),
	}
}

func (b *Bridge) onCapture(result capture.Result, frame *capture.Frame) {
	switch result {
	case capture.ResultSuccess:
		b.forward(frame)
	case capture.ResultErrorTemporary:
		b.temporary.Add(1)
		b.log.Debug("temporary capture error, waiting for the next frame")
	case capture.ResultErrorUserStopped:
		b.log.Info("capture stopped by the user")
		b.finish(nil)
	default:
		b.log.Errorf("capture failed: %s", result)
		b.finish(ErrCapturePermanent)
	}
}

func (b *Bridge) forward(frame *capture.Frame) {
	if b.ended() {
		b.dropped.Add(1)
		return
	}

	ts := b.timestamp()
	err := b.shared.Update(func(vf *media.VideoFrame) error {
		err := yuv.ConvertToI420(frame.Data(), int(frame.Stride()), frame.Format(),
			vf.Buffer, int(frame.Width()), int(frame.Height()))
		if err != nil {
			return err
		}
		vf.TimestampUs = ts
		vf.Rotation = media.Rotation0
		return b.source.CaptureFrame(vf)
	})
	if err != nil {
		b.dropped.Add(1)
		b.log.Errorf("forward %dx%d frame: %v", frame.Width(), frame.Height(), err)
		b.finish(fmt.Errorf("pipeline: forward frame: %w", err))
		return
	}
	b.forwarded.Add(1)
}

// timestamp returns microseconds since the first frame, never decreasing.
func (b *Bridge) timestamp() int64 {
	now := b.now()
	if !b.seen {
		b.first = now
		b.seen = true
	}
	ts := now.Sub(b.first).Microseconds()
	if ts < b.lastTs {
		ts = b.lastTs
	}
	b.lastTs = ts
	return ts
}

func (b *Bridge) ended() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bridge) finish(err error) {
	b.doneOnce.Do(func() {
		b.errMu.Lock()
		b.err = err
		b.errMu.Unlock()
		close(b.done)
	})
}
