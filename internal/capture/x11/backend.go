// Package x11 captures top-level windows from an X server with
// github.com/jezek/xgb.
package x11

import (
	"errors"
	"sync"
	"time"

	"github.com/jezek/xgb/xproto"
	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
	"github.com/pion/logging"
)

const defaultFPS = 30

// geometry describes a drawable at the time of a grab.
type geometry struct {
	Width, Height uint16
	Depth         byte
	BitsPerPixel  byte
}

// server is the part of the X protocol the backend uses.
type server interface {
	clientList() ([]xproto.Window, error)
	title(w xproto.Window) string
	pid(w xproto.Window) uint32
	viewable(w xproto.Window) bool
	geometry(w xproto.Window) (geometry, error)
	image(w xproto.Window, width, height uint16) ([]byte, error)
	origin(w xproto.Window) (x, y int32)
	close()
}

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
			b.log = f.NewLogger("x11")
		}
	}
}

// Backend implements capture.Backend for X11 windows. Source ids are X
// window ids; excluded application ids are process ids.
type Backend struct {
	srv      server
	interval time.Duration
	log      logging.LeveledLogger

	ticker capture.Ticker

	mu          sync.Mutex
	known       map[xproto.Window]uint32
	selected    xproto.Window
	selectedPID uint32
	excluded    map[uint32]bool
	handler     capture.Handler
}

func newBackend(srv server, opts ...Option) *Backend {
	b := &Backend{
		srv:      srv,
		interval: time.Second / defaultFPS,
		known:    map[xproto.Window]uint32{},
		excluded: map[uint32]bool{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.NewDefaultLoggerFactory().NewLogger("x11")
	}
	return b
}

// Sources lists managed top-level windows, skipping those that belong to an
// excluded process.
func (b *Backend) Sources() ([]capture.Source, error) {
	windows, err := b.srv.clientList()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	excluded := b.excluded
	b.mu.Unlock()

	known := make(map[xproto.Window]uint32, len(windows))
	sources := make([]capture.Source, 0, len(windows))
	for _, w := range windows {
		pid := b.srv.pid(w)
		if pid != 0 && excluded[pid] {
			continue
		}
		known[w] = pid
		sources = append(sources, capture.Source{
			ID:        uint64(w),
			Title:     b.srv.title(w),
			DisplayID: -1,
		})
	}

	b.mu.Lock()
	b.known = known
	b.mu.Unlock()
	return sources, nil
}

// SelectSource accepts a window from the last enumeration that is still
// mapped and not owned by an excluded process. While capturing, the next
// grab uses the new window.
func (b *Backend) SelectSource(id uint64) bool {
	w := xproto.Window(id)
	b.mu.Lock()
	pid, ok := b.known[w]
	excluded := b.excluded[pid]
	b.mu.Unlock()
	if !ok || (pid != 0 && excluded) {
		return false
	}
	if !b.srv.viewable(w) {
		return false
	}

	b.mu.Lock()
	b.selected, b.selectedPID = w, pid
	b.mu.Unlock()
	return true
}

func (b *Backend) Start(h capture.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == 0 {
		return errors.New("x11: no window selected")
	}
	if b.handler != nil {
		return errors.New("x11: already running")
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

func (b *Backend) CaptureFrame() {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}
	b.grab(h)
}

// SetExcludedApplications takes process ids. Their windows disappear from
// enumeration; a running capture of one of them yields temporary errors.
func (b *Backend) SetExcludedApplications(ids []uint64) {
	excluded := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		excluded[uint32(id)] = true
	}
	b.mu.Lock()
	b.excluded = excluded
	b.mu.Unlock()
}

func (b *Backend) Close() error {
	b.Stop()
	b.srv.close()
	return nil
}

// grab captures one frame of the selected window and reports whether
// capture can continue.
func (b *Backend) grab(h capture.Handler) bool {
	b.mu.Lock()
	w, pid := b.selected, b.selectedPID
	hidden := pid != 0 && b.excluded[pid]
	b.mu.Unlock()
	if hidden {
		h(capture.ResultErrorTemporary, nil)
		return true
	}

	geom, err := b.srv.geometry(w)
	if err != nil {
		return b.fail(w, h, "geometry", err)
	}
	if geom.BitsPerPixel != 32 {
		b.log.Errorf("window 0x%x: unsupported depth %d (%d bpp)", uint32(w), geom.Depth, geom.BitsPerPixel)
		h(capture.ResultErrorPermanent, nil)
		return false
	}
	if geom.Width == 0 || geom.Height == 0 {
		h(capture.ResultErrorTemporary, nil)
		return true
	}

	data, err := b.srv.image(w, geom.Width, geom.Height)
	if err != nil {
		return b.fail(w, h, "image", err)
	}
	left, top := b.srv.origin(w)

	h(capture.ResultSuccess, &capture.RawFrame{
		Width:  int32(geom.Width),
		Height: int32(geom.Height),
		Stride: uint32(geom.Width) * 4,
		Left:   left,
		Top:    top,
		Format: yuv.FormatBGRA,
		Data:   data,
	})
	return true
}

func (b *Backend) fail(w xproto.Window, h capture.Handler, what string, err error) bool {
	result := classify(err)
	if result == capture.ResultErrorPermanent {
		b.log.Errorf("window 0x%x %s: %v", uint32(w), what, err)
	} else {
		b.log.Debugf("window 0x%x %s: %v", uint32(w), what, err)
	}
	h(result, nil)
	return result != capture.ResultErrorPermanent
}
