package capture_test

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
)

// fakeBackend records calls and lets the test drive the handler.
type fakeBackend struct {
	mu       sync.Mutex
	sources  []capture.Source
	rejected map[uint64]bool
	handler  capture.Handler
	excluded []uint64
	starts   int
	stops    int
	closed   bool
	startErr error

	// pump, when set, is run on a backend goroutine after Start.
	pump   func(h capture.Handler, stop <-chan struct{})
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sources: []capture.Source{
			{ID: 1, Title: "Display 0", DisplayID: 0},
			{ID: 2, Title: "Display 1", DisplayID: 1},
		},
		rejected: map[uint64]bool{},
	}
}

func (f *fakeBackend) Sources() ([]capture.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Source(nil), f.sources...), nil
}

func (f *fakeBackend) SelectSource(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.rejected[id]
}

func (f *fakeBackend) Start(h capture.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.handler = h
	if f.pump != nil {
		f.stopCh = make(chan struct{})
		f.wg.Add(1)
		go func(stop chan struct{}) {
			defer f.wg.Done()
			f.pump(h, stop)
		}(f.stopCh)
	}
	return nil
}

func (f *fakeBackend) Stop() {
	f.mu.Lock()
	f.stops++
	stop := f.stopCh
	f.stopCh = nil
	f.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	f.wg.Wait()
}

func (f *fakeBackend) CaptureFrame() {
	f.emit(capture.ResultSuccess, testFrame())
}

func (f *fakeBackend) SetExcludedApplications(ids []uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excluded = append([]uint64(nil), ids...)
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) emit(result capture.Result, frame *capture.RawFrame) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(result, frame)
	}
}

func (f *fakeBackend) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func testFrame() *capture.RawFrame {
	const w, h, stride = 4, 2, 20
	return &capture.RawFrame{
		Width:  w,
		Height: h,
		Stride: stride,
		Format: yuv.FormatBGRA,
		Data:   make([]byte, stride*h),
	}
}

func newTestSession(t *testing.T, b *fakeBackend, cb capture.Callback) *capture.Session {
	t.Helper()
	if cb == nil {
		cb = func(capture.Result, *capture.Frame) {}
	}
	s, err := capture.NewSession(cb, b, capture.ModeScreen)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startFirst(t *testing.T, s *capture.Session) capture.Source {
	t.Helper()
	sources, err := s.Sources()
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("Sources() returned nothing")
	}
	if err := s.Start(sources[0]); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return sources[0]
}

func TestNewSession_RejectsMissingParts(t *testing.T) {
	if _, err := capture.NewSession(nil, newFakeBackend(), capture.ModeScreen); err == nil {
		t.Error("NewSession(nil callback) succeeded")
	}
	if _, err := capture.NewSession(func(capture.Result, *capture.Frame) {}, nil, capture.ModeScreen); err == nil {
		t.Error("NewSession(nil backend) succeeded")
	}
}

func TestSession_SelectSource(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)

	if s.SelectSource(1) {
		t.Fatal("SelectSource before any enumeration succeeded")
	}
	if _, err := s.Sources(); err != nil {
		t.Fatal(err)
	}
	if !s.SelectSource(2) {
		t.Fatal("SelectSource(2) = false")
	}
	if got := s.State(); got != capture.StateArmed {
		t.Errorf("State() = %v, want armed", got)
	}

	if s.SelectSource(99) {
		t.Error("SelectSource(99) = true for an id not in the last enumeration")
	}
	b.mu.Lock()
	b.rejected[1] = true // window went away since enumeration
	b.mu.Unlock()
	if s.SelectSource(1) {
		t.Error("SelectSource(1) = true although the backend rejected it")
	}

	sel, ok := s.Selected()
	if !ok || sel.ID != 2 {
		t.Errorf("Selected() = %v, %v; want source 2 to stay selected", sel, ok)
	}
}

func TestSession_StopWhenIdleIsNoop(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)

	s.Stop()
	s.Stop()

	if got := s.State(); got != capture.StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
	if _, stops := b.counts(); stops != 0 {
		t.Errorf("backend Stop called %d times for an idle session", stops)
	}
}

func TestSession_StartTwiceIsRejected(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	src := startFirst(t, s)

	err := s.Start(src)
	if !errors.Is(err, capture.ErrAlreadyCapturing) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyCapturing", err)
	}
	if starts, _ := b.counts(); starts != 1 {
		t.Errorf("backend started %d times, want 1", starts)
	}

	// Stop clears the selection; the enumeration is still valid.
	s.Stop()
	if err := s.Start(src); err != nil {
		t.Fatalf("Start() after Stop error = %v", err)
	}
	if starts, _ := b.counts(); starts != 2 {
		t.Errorf("backend started %d times after restart, want 2", starts)
	}
}

func TestSession_StartFailureLeavesSessionArmed(t *testing.T) {
	b := newFakeBackend()
	b.startErr = errors.New("permission denied")
	s := newTestSession(t, b, nil)
	sources, _ := s.Sources()

	if err := s.Start(sources[0]); err == nil {
		t.Fatal("Start() succeeded with a failing backend")
	}
	if got := s.State(); got != capture.StateArmed {
		t.Errorf("State() = %v, want armed", got)
	}
}

func TestSession_PermanentErrorEndsRun(t *testing.T) {
	b := newFakeBackend()
	var mu sync.Mutex
	var got []capture.Result
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		mu.Lock()
		defer mu.Unlock()
		if (r == capture.ResultSuccess) != (f != nil) {
			t.Errorf("result %v delivered with frame %v", r, f)
		}
		got = append(got, r)
	})
	startFirst(t, s)

	for _, r := range []capture.Result{
		capture.ResultSuccess,
		capture.ResultErrorTemporary,
		capture.ResultSuccess,
		capture.ResultErrorPermanent,
	} {
		var frame *capture.RawFrame
		if r == capture.ResultSuccess {
			frame = testFrame()
		}
		b.emit(r, frame)
	}

	if st := s.State(); st != capture.StateIdle {
		t.Errorf("State() after permanent error = %v, want idle", st)
	}

	// A straggler from the backend must not reach the callback.
	b.emit(capture.ResultSuccess, testFrame())
	if err := s.CaptureFrame(); !errors.Is(err, capture.ErrNotCapturing) {
		t.Errorf("CaptureFrame() error = %v, want ErrNotCapturing", err)
	}

	mu.Lock()
	defer mu.Unlock()
	successes := 0
	for _, r := range got {
		if r == capture.ResultSuccess {
			successes++
		}
	}
	if successes != 2 || len(got) != 4 {
		t.Errorf("callback saw %v, want exactly 2 successes out of 4 results", got)
	}

	stats := s.Stats()
	if stats.FramesDelivered != 2 || stats.TemporaryErrors != 1 || stats.PermanentErrors != 1 || stats.FramesDiscarded != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, stops := b.counts(); stops != 1 {
		t.Errorf("backend stopped %d times, want 1", stops)
	}
}

func TestSession_UserStoppedEndsRunQuietly(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	startFirst(t, s)

	b.emit(capture.ResultErrorUserStopped, nil)

	if st := s.State(); st != capture.StateIdle {
		t.Errorf("State() = %v, want idle", st)
	}
}

func TestSession_TemporaryErrorKeepsCapturing(t *testing.T) {
	b := newFakeBackend()
	var temporaries atomic.Int32
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		if r == capture.ResultErrorTemporary {
			temporaries.Add(1)
		}
	})
	startFirst(t, s)

	b.emit(capture.ResultErrorTemporary, nil)
	b.emit(capture.ResultSuccess, testFrame())

	if st := s.State(); st != capture.StateCapturing {
		t.Errorf("State() = %v, want capturing", st)
	}
	if temporaries.Load() != 1 {
		t.Errorf("temporary errors delivered = %d, want 1", temporaries.Load())
	}
}

func TestSession_UnknownResultIsPermanent(t *testing.T) {
	b := newFakeBackend()
	var seen capture.Result = -1
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) { seen = r })
	startFirst(t, s)

	b.emit(capture.Result(42), nil)

	if seen != capture.ResultErrorPermanent {
		t.Errorf("callback saw %v, want error-permanent", seen)
	}
	if st := s.State(); st != capture.StateIdle {
		t.Errorf("State() = %v, want idle", st)
	}
}

func TestSession_MalformedFrameIsTemporary(t *testing.T) {
	b := newFakeBackend()
	var seen capture.Result = -1
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) { seen = r })
	startFirst(t, s)

	short := testFrame()
	short.Data = short.Data[:10]
	b.emit(capture.ResultSuccess, short)

	if seen != capture.ResultErrorTemporary {
		t.Errorf("callback saw %v, want error-temporary", seen)
	}
}

func TestSession_FrameIsReleasedAfterCallback(t *testing.T) {
	b := newFakeBackend()
	var kept *capture.Frame
	var sawLen int
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		kept = f
		sawLen = len(f.Data())
	})
	startFirst(t, s)

	raw := testFrame()
	b.emit(capture.ResultSuccess, raw)

	if want := int(raw.Stride) * int(raw.Height); sawLen != want {
		t.Errorf("len(Data()) inside callback = %d, want %d", sawLen, want)
	}
	if kept.Valid() {
		t.Error("frame still valid after the callback returned")
	}
	if kept.Data() != nil || kept.Width() != 0 {
		t.Error("released frame still exposes backend memory")
	}
}

func TestSession_ConcurrentCaptureFrameNeverOverlaps(t *testing.T) {
	b := newFakeBackend()
	var inFlight, overlaps, calls atomic.Int32
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		if inFlight.Add(1) != 1 {
			overlaps.Add(1)
		}
		calls.Add(1)
		runtime.Gosched()
		inFlight.Add(-1)
	})
	startFirst(t, s)

	const goroutines, perGoroutine = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := s.CaptureFrame(); err != nil {
					t.Errorf("CaptureFrame() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("%d overlapping callback executions", overlaps.Load())
	}
	if calls.Load() != goroutines*perGoroutine {
		t.Errorf("callback ran %d times, want %d", calls.Load(), goroutines*perGoroutine)
	}
}

func TestSession_StopWaitsForInFlightCallback(t *testing.T) {
	b := newFakeBackend()
	b.pump = func(h capture.Handler, stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			h(capture.ResultSuccess, testFrame())
			time.Sleep(time.Millisecond)
		}
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	var afterStop atomic.Bool
	var lateCalls atomic.Int32
	s := newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		if afterStop.Load() {
			lateCalls.Add(1)
		}
		first.Do(func() {
			close(entered)
			<-release
		})
	})
	startFirst(t, s)

	<-entered
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		afterStop.Store(true)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}

	time.Sleep(10 * time.Millisecond)
	if n := lateCalls.Load(); n != 0 {
		t.Errorf("%d callbacks started after Stop returned", n)
	}
}

func TestSession_RequestStopFromCallback(t *testing.T) {
	b := newFakeBackend()
	var s *capture.Session
	s = newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		s.RequestStop()
	})
	startFirst(t, s)

	done := make(chan struct{})
	go func() {
		b.emit(capture.ResultSuccess, testFrame())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestStop inside the callback blocked")
	}
	if st := s.State(); st != capture.StateIdle {
		t.Errorf("State() = %v, want idle", st)
	}
}

func TestSession_ExcludedApplications(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)

	ids := []uint64{4242, 7}
	s.SetExcludedApplications(ids)
	ids[0] = 0 // the session keeps its own copy

	b.SetExcludedApplications(nil)
	startFirst(t, s)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.excluded) != 2 || b.excluded[0] != 4242 || b.excluded[1] != 7 {
		t.Errorf("backend exclusions after Start = %v, want [4242 7]", b.excluded)
	}
}

func TestSession_Close(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	src := startFirst(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := s.Start(src); !errors.Is(err, capture.ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Sources(); !errors.Is(err, capture.ErrClosed) {
		t.Errorf("Sources() after Close error = %v, want ErrClosed", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed || b.stops != 1 {
		t.Errorf("backend closed=%v stops=%d, want closed after one stop", b.closed, b.stops)
	}
}

func TestSession_RestartAfterRequestStopFromCallback(t *testing.T) {
	b := newFakeBackend()
	b.pump = func(h capture.Handler, stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			h(capture.ResultSuccess, testFrame())
			time.Sleep(time.Millisecond)
		}
	}

	stopped := make(chan struct{})
	var once sync.Once
	var s *capture.Session
	s = newTestSession(t, b, func(r capture.Result, f *capture.Frame) {
		once.Do(func() {
			s.RequestStop()
			close(stopped)
		})
	})
	src := startFirst(t, s)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	restarted := make(chan error, 1)
	go func() { restarted <- s.Start(src) }()
	select {
	case err := <-restarted:
		if err != nil {
			t.Fatalf("Start() after RequestStop error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() after RequestStop blocked")
	}
	if st := s.State(); st != capture.StateCapturing {
		t.Errorf("State() = %v, want capturing", st)
	}
	if starts, stops := b.counts(); starts != 2 || stops != 1 {
		t.Errorf("backend starts/stops = %d/%d, want 2/1", starts, stops)
	}
}
