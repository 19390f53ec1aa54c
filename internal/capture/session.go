// Package capture drives a desktop capture backend: source enumeration,
// start/stop, and serialized delivery of borrowed frames to one callback.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

var (
	ErrAlreadyCapturing = errors.New("capture: session already capturing")
	ErrNotCapturing     = errors.New("capture: session not capturing")
	ErrInvalidSource    = errors.New("capture: unknown or stale source id")
	ErrClosed           = errors.New("capture: session closed")
)

// Mode selects what a session captures. A session captures one kind only.
type Mode int

const (
	ModeScreen Mode = iota
	ModeWindow
)

func (m Mode) String() string {
	switch m {
	case ModeScreen:
		return "screen"
	case ModeWindow:
		return "window"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the lifecycle position of a Session.
type State int

const (
	// StateIdle: constructed, no source selected.
	StateIdle State = iota
	// StateArmed: a source is selected, capture not running.
	StateArmed
	// StateCapturing: the backend is producing frames.
	StateCapturing
	// StateClosed: Close was called; the session is unusable.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateCapturing:
		return "capturing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Callback receives every capture attempt. It runs on the backend's
// goroutine, one invocation at a time per session. frame is nil for error
// results and must not be used after the callback returns.
//
// The callback must not call Stop, Close or Start on its own session. Stop
// and Close wait for the running callback to return, and Start waits for a
// pending backend stop, which in turn waits for the callback. Use
// RequestStop instead, and restart from another goroutine.
type Callback func(result Result, frame *Frame)

// Stats counts callback traffic for one session.
type Stats struct {
	FramesDelivered uint64
	TemporaryErrors uint64
	PermanentErrors uint64
	// FramesDiscarded counts backend deliveries that arrived after the run
	// stopped accepting them.
	FramesDiscarded uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLoggerFactory sets the factory used for the session's logger.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *Session) {
		if f != nil {
			s.log = f.NewLogger("capture")
		}
	}
}

// run is one Start..Stop cycle. Handlers bound to an old run cannot deliver
// into a newer one.
type run struct {
	accepting atomic.Bool
	halted    sync.Once
}

// Session owns one Backend and forwards its results to a Callback.
type Session struct {
	mode    Mode
	backend Backend
	cb      Callback
	log     logging.LeveledLogger

	mu       sync.Mutex
	state    State
	selected *Source
	known    map[uint64]Source
	excluded []uint64
	current  *run

	// deliverMu serializes callback invocations and lets Stop drain them.
	deliverMu sync.Mutex
	halts     sync.WaitGroup

	delivered atomic.Uint64
	temporary atomic.Uint64
	permanent atomic.Uint64
	discarded atomic.Uint64
}

// NewSession wraps backend. The caller keeps no reference to backend; the
// session closes it in Close.
func NewSession(cb Callback, backend Backend, mode Mode, opts ...Option) (*Session, error) {
	if cb == nil {
		return nil, errors.New("capture: nil callback")
	}
	if backend == nil {
		return nil, errors.New("capture: nil backend")
	}
	s := &Session{
		mode:    mode,
		backend: backend,
		cb:      cb,
		known:   map[uint64]Source{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.NewDefaultLoggerFactory().NewLogger("capture")
	}
	return s, nil
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sources queries the backend for the current sources. The result is never
// cached; its ids are what SelectSource and Start accept afterwards.
func (s *Session) Sources() ([]Source, error) {
	if s.State() == StateClosed {
		return nil, ErrClosed
	}
	sources, err := s.backend.Sources()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate sources: %w", err)
	}

	known := make(map[uint64]Source, len(sources))
	for _, src := range sources {
		known[src.ID] = src
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()

	s.log.Debugf("enumerated %d %s sources", len(sources), s.mode)
	return sources, nil
}

// SelectSource binds a source from the last enumeration. It returns false,
// leaving the selection unchanged, if the id is unknown or the backend no
// longer accepts it.
func (s *Session) SelectSource(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	if err := s.selectLocked(id); err != nil {
		s.log.Debugf("select source %d: %v", id, err)
		return false
	}
	return true
}

func (s *Session) selectLocked(id uint64) error {
	src, ok := s.known[id]
	if !ok {
		return fmt.Errorf("%w: %d not in last enumeration", ErrInvalidSource, id)
	}
	if !s.backend.SelectSource(id) {
		return fmt.Errorf("%w: backend rejected %d", ErrInvalidSource, id)
	}
	s.selected = &src
	if s.state == StateIdle {
		s.state = StateArmed
	}
	return nil
}

// Selected returns the bound source, if any.
func (s *Session) Selected() (Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return Source{}, false
	}
	return *s.selected, true
}

// SetExcludedApplications sets the application ids whose content must be
// left out of captured frames. It is re-applied on every Start. While
// capturing the change is best-effort and may only affect later frames.
func (s *Session) SetExcludedApplications(ids []uint64) {
	excluded := append([]uint64(nil), ids...)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.excluded = excluded
	s.mu.Unlock()
	s.backend.SetExcludedApplications(excluded)
}

// Start selects src and starts asynchronous capture. Starting a session that
// is already capturing is rejected with ErrAlreadyCapturing.
func (s *Session) Start(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateCapturing:
		return ErrAlreadyCapturing
	}
	if err := s.selectLocked(src.ID); err != nil {
		return err
	}

	// A run ended by a permanent error may still be stopping its backend.
	s.halts.Wait()

	s.backend.SetExcludedApplications(s.excluded)

	r := &run{}
	r.accepting.Store(true)
	s.current = r
	s.state = StateCapturing
	if err := s.backend.Start(func(result Result, frame *RawFrame) {
		s.deliver(r, result, frame)
	}); err != nil {
		r.accepting.Store(false)
		s.current = nil
		s.state = StateArmed
		return fmt.Errorf("capture: start %s backend: %w", s.mode, err)
	}

	s.log.Infof("capturing %s", src)
	return nil
}

// CaptureFrame asks the backend for one frame now. Poll-driven backends
// deliver it synchronously on the calling goroutine. Concurrent calls are
// allowed; their callbacks never overlap.
func (s *Session) CaptureFrame() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateCapturing {
		return ErrNotCapturing
	}
	s.backend.CaptureFrame()
	return nil
}

// Stop halts capture. After it returns no new callback will start and any
// callback that was running has finished. Stopping an idle session is a
// no-op.
func (s *Session) Stop() {
	r := s.detach(nil, false)
	if r == nil {
		return
	}
	s.halt(r)
	s.log.Infof("capture stopped")
}

// RequestStop is the non-blocking form of Stop, safe to call from inside
// the callback. The backend is stopped on another goroutine.
func (s *Session) RequestStop() {
	if r := s.detach(nil, true); r != nil {
		s.haltAsync(r)
	}
}

// Close stops capture, waits for pending teardowns and releases the
// backend. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	r := s.current
	if r != nil {
		r.accepting.Store(false)
		s.current = nil
	}
	s.state = StateClosed
	s.selected = nil
	s.mu.Unlock()

	if r != nil {
		s.halt(r)
	}
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	s.halts.Wait()

	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("capture: close backend: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesDelivered: s.delivered.Load(),
		TemporaryErrors: s.temporary.Load(),
		PermanentErrors: s.permanent.Load(),
		FramesDiscarded: s.discarded.Load(),
	}
}

// detach ends the current run if it is want (or any run when want is nil)
// and moves the session back to idle. It returns the detached run. With
// async set the pending halt is registered before the lock is released, so
// a following Start waits for it.
func (s *Session) detach(want *run, async bool) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.current
	if r == nil || (want != nil && r != want) {
		return nil
	}
	r.accepting.Store(false)
	s.current = nil
	s.state = StateIdle
	s.selected = nil
	if async {
		s.halts.Add(1)
	}
	return r
}

// halt stops the backend for r and drains an in-flight callback.
func (s *Session) halt(r *run) {
	r.halted.Do(func() {
		s.backend.Stop()
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	})
}

// haltAsync must follow a detach with async set.
func (s *Session) haltAsync(r *run) {
	go func() {
		defer s.halts.Done()
		s.halt(r)
	}()
}

func (s *Session) deliver(r *run, result Result, raw *RawFrame) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !r.accepting.Load() {
		s.discarded.Add(1)
		return
	}

	result = result.normalize()
	if result == ResultSuccess && !raw.valid() {
		s.log.Warnf("backend reported success with an unusable frame, treating as temporary error")
		result = ResultErrorTemporary
	}

	switch result {
	case ResultSuccess:
		s.delivered.Add(1)
	case ResultErrorTemporary:
		s.temporary.Add(1)
	default:
		s.permanent.Add(1)
	}

	s.invoke(result, raw)

	if result.Terminal() {
		s.log.Infof("capture ended by backend: %s", result)
		if stopped := s.detach(r, true); stopped != nil {
			s.haltAsync(stopped)
		}
	}
}

func (s *Session) invoke(result Result, raw *RawFrame) {
	if result != ResultSuccess {
		s.cb(result, nil)
		return
	}
	frame := newFrame(raw)
	defer frame.release()
	s.cb(result, frame)
}
