package screen

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
)

type fakeDisplays struct {
	mu      sync.Mutex
	rects   []image.Rectangle
	failing bool
}

func (f *fakeDisplays) NumActiveDisplays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rects)
}

func (f *fakeDisplays) GetDisplayBounds(i int) image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.rects) {
		return image.Rectangle{}
	}
	return f.rects[i]
}

func (f *fakeDisplays) CaptureRect(r image.Rectangle) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("grab failed")
	}
	return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
}

func (f *fakeDisplays) unplug() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rects = f.rects[:0]
}

type result struct {
	code  capture.Result
	width int32
	left  int32
	fmt   yuv.PixelFormat
}

type recorder struct {
	mu  sync.Mutex
	got []result
}

func (r *recorder) handle(code capture.Result, f *capture.RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := result{code: code}
	if f != nil {
		res.width, res.left, res.fmt = f.Width, f.Left, f.Format
	}
	r.got = append(r.got, res)
}

func (r *recorder) results() []result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]result(nil), r.got...)
}

func twoMonitors() *fakeDisplays {
	return &fakeDisplays{rects: []image.Rectangle{
		image.Rect(0, 0, 64, 32),
		image.Rect(64, 0, 96, 16),
	}}
}

func TestBackend_Sources(t *testing.T) {
	b := newBackend(twoMonitors())

	sources, err := b.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	if sources[1].ID != 1 || sources[1].DisplayID != 1 || sources[1].IsWindow() {
		t.Errorf("sources[1] = %v", sources[1])
	}
	if sources[1].Title != "Display 1 (32x16)" {
		t.Errorf("title = %q", sources[1].Title)
	}

	if b.SelectSource(2) {
		t.Error("SelectSource(2) accepted an unknown display")
	}
	if !b.SelectSource(1) {
		t.Error("SelectSource(1) rejected")
	}
}

func TestBackend_NoDisplays(t *testing.T) {
	b := newBackend(&fakeDisplays{})
	if _, err := b.Sources(); err == nil {
		t.Error("Sources() succeeded without displays")
	}
}

func TestBackend_CaptureFrame(t *testing.T) {
	disp := twoMonitors()
	b := newBackend(disp, WithFPS(1))
	if _, err := b.Sources(); err != nil {
		t.Fatal(err)
	}
	b.SelectSource(1)

	rec := &recorder{}
	if err := b.Start(rec.handle); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	b.CaptureFrame()
	disp.mu.Lock()
	disp.failing = true
	disp.mu.Unlock()
	b.CaptureFrame()
	disp.unplug()
	b.CaptureFrame()

	want := []result{
		{code: capture.ResultSuccess, width: 32, left: 64, fmt: yuv.FormatRGBA},
		{code: capture.ResultErrorTemporary},
		{code: capture.ResultErrorPermanent},
	}
	got := rec.results()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBackend_PushLoop(t *testing.T) {
	b := newBackend(twoMonitors(), WithFPS(60))
	if _, err := b.Sources(); err != nil {
		t.Fatal(err)
	}
	b.SelectSource(0)

	frames := make(chan struct{}, 64)
	err := b.Start(func(code capture.Result, f *capture.RawFrame) {
		if code == capture.ResultSuccess {
			select {
			case frames <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(func(capture.Result, *capture.RawFrame) {}); err == nil {
		t.Error("second Start succeeded")
	}

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from the push loop")
	}
	b.Stop()
	b.Stop()

	// Nothing is captured after Stop.
	b.CaptureFrame()
	for len(frames) > 0 {
		<-frames
	}
	time.Sleep(50 * time.Millisecond)
	if len(frames) != 0 {
		t.Error("frames delivered after Stop")
	}
}

func TestBackend_StartWithoutSelection(t *testing.T) {
	b := newBackend(twoMonitors())
	if err := b.Start(func(capture.Result, *capture.RawFrame) {}); err == nil {
		t.Error("Start succeeded without a selected display")
	}
}

func TestWithFPS_IgnoresOutOfRange(t *testing.T) {
	b := newBackend(twoMonitors(), WithFPS(0), WithFPS(120))
	if b.interval != time.Second/defaultFPS {
		t.Errorf("interval = %v, want default", b.interval)
	}
}

func TestBackend_SelectSourceWhileCapturing(t *testing.T) {
	b := newBackend(twoMonitors(), WithFPS(60))
	if _, err := b.Sources(); err != nil {
		t.Fatal(err)
	}
	b.SelectSource(0)

	rec := &recorder{}
	if err := b.Start(rec.handle); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	waitFor := func(width int32) int {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			for i, r := range rec.results() {
				if r.width == width {
					return i
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("no frame of width %d", width)
		return -1
	}
	waitFor(64)

	if !b.SelectSource(1) {
		t.Fatal("SelectSource(1) rejected while capturing")
	}
	first := waitFor(32)
	for len(rec.results()) < first+4 {
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()

	for i, r := range rec.results()[first:] {
		if r.width != 32 {
			t.Errorf("frame %d after the switch has width %d, want 32", first+i, r.width)
		}
	}
}
