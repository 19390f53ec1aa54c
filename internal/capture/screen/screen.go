// Package screen captures whole monitors with github.com/kbinani/screenshot.
package screen

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
	"github.com/kbinani/screenshot"
	"github.com/pion/logging"
)

const defaultFPS = 30

// displays is the part of the screenshot package the backend uses.
type displays interface {
	NumActiveDisplays() int
	GetDisplayBounds(index int) image.Rectangle
	CaptureRect(rect image.Rectangle) (*image.RGBA, error)
}

type system struct{}

func (system) NumActiveDisplays() int                             { return screenshot.NumActiveDisplays() }
func (system) GetDisplayBounds(i int) image.Rectangle             { return screenshot.GetDisplayBounds(i) }
func (system) CaptureRect(r image.Rectangle) (*image.RGBA, error) { return screenshot.CaptureRect(r) }

type Option func(*Backend)

// WithFPS sets the push-mode frame rate. Values outside 1..60 are ignored.
func WithFPS(fps int) Option {
	return func(b *Backend) {
		if fps >= 1 && fps <= 60 {
			b.interval = time.Second / time.Duration(fps)
		}
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(b *Backend) {
		if f != nil {
			b.log = f.NewLogger("screen")
		}
	}
}

// Backend implements capture.Backend for monitors. Source ids are display
// indexes as reported by the screenshot package.
type Backend struct {
	disp     displays
	interval time.Duration
	log      logging.LeveledLogger

	ticker capture.Ticker

	mu       sync.Mutex
	bounds   []image.Rectangle
	selected int
	handler  capture.Handler
}

func New(opts ...Option) *Backend {
	return newBackend(system{}, opts...)
}

func newBackend(disp displays, opts ...Option) *Backend {
	b := &Backend{
		disp:     disp,
		interval: time.Second / defaultFPS,
		selected: -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.NewDefaultLoggerFactory().NewLogger("screen")
	}
	return b
}

func (b *Backend) Sources() ([]capture.Source, error) {
	n := b.disp.NumActiveDisplays()
	if n <= 0 {
		return nil, errors.New("screen: no active displays")
	}
	bounds := make([]image.Rectangle, n)
	sources := make([]capture.Source, n)
	for i := 0; i < n; i++ {
		r := b.disp.GetDisplayBounds(i)
		bounds[i] = r
		sources[i] = capture.Source{
			ID:        uint64(i),
			Title:     fmt.Sprintf("Display %d (%dx%d)", i, r.Dx(), r.Dy()),
			DisplayID: int64(i),
		}
	}

	b.mu.Lock()
	b.bounds = bounds
	b.mu.Unlock()
	return sources, nil
}

// SelectSource picks a display from the last enumeration. While capturing,
// the next grab uses the new display.
func (b *Backend) SelectSource(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id >= uint64(len(b.bounds)) || int(id) >= b.disp.NumActiveDisplays() {
		return false
	}
	b.selected = int(id)
	return true
}

func (b *Backend) Start(h capture.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected < 0 {
		return errors.New("screen: no display selected")
	}
	if b.handler != nil {
		return errors.New("screen: already running")
	}
	if err := b.ticker.Start(b.interval, func() bool { return b.grab(h) }); err != nil {
		return err
	}
	b.handler = h
	return nil
}

func (b *Backend) Stop() {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	b.ticker.Stop()
}

// CaptureFrame grabs the selected display on the calling goroutine.
func (b *Backend) CaptureFrame() {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}
	b.grab(h)
}

// SetExcludedApplications is not supported by monitor grabs; the whole
// display is always captured.
func (b *Backend) SetExcludedApplications(ids []uint64) {
	if len(ids) > 0 {
		b.log.Warnf("screen capture cannot exclude applications, ignoring %d ids", len(ids))
	}
}

func (b *Backend) Close() error {
	b.Stop()
	return nil
}

// grab captures one frame of the selected display and reports whether
// capture can continue.
func (b *Backend) grab(h capture.Handler) bool {
	b.mu.Lock()
	display := b.selected
	b.mu.Unlock()
	if display >= b.disp.NumActiveDisplays() {
		b.log.Errorf("display %d disappeared", display)
		h(capture.ResultErrorPermanent, nil)
		return false
	}
	rect := b.disp.GetDisplayBounds(display)
	img, err := b.disp.CaptureRect(rect)
	if err != nil || img == nil {
		b.log.Debugf("grab display %d: %v", display, err)
		h(capture.ResultErrorTemporary, nil)
		return true
	}
	size := img.Rect.Size()
	h(capture.ResultSuccess, &capture.RawFrame{
		Width:  int32(size.X),
		Height: int32(size.Y),
		Stride: uint32(img.Stride),
		Left:   int32(rect.Min.X),
		Top:    int32(rect.Min.Y),
		Format: yuv.FormatRGBA,
		Data:   img.Pix,
	})
	return true
}
