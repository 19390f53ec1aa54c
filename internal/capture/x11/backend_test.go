package x11

import (
	"sync"
	"testing"
	"time"

	"github.com/jezek/xgb/xproto"
	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
)

type fakeWindow struct {
	title    string
	pid      uint32
	unmapped bool
	geom     geometry
	geomErr  error
	imageErr error
}

type fakeServer struct {
	mu      sync.Mutex
	order   []xproto.Window
	windows map[xproto.Window]*fakeWindow
	closed  bool
}

func (f *fakeServer) window(w xproto.Window) *fakeWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fw, ok := f.windows[w]; ok {
		return fw
	}
	return &fakeWindow{geomErr: xproto.WindowError{}, imageErr: xproto.WindowError{}}
}

func (f *fakeServer) clientList() ([]xproto.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]xproto.Window(nil), f.order...), nil
}

func (f *fakeServer) title(w xproto.Window) string  { return f.window(w).title }
func (f *fakeServer) pid(w xproto.Window) uint32    { return f.window(w).pid }
func (f *fakeServer) viewable(w xproto.Window) bool { return !f.window(w).unmapped }

func (f *fakeServer) geometry(w xproto.Window) (geometry, error) {
	fw := f.window(w)
	return fw.geom, fw.geomErr
}

func (f *fakeServer) image(w xproto.Window, width, height uint16) ([]byte, error) {
	if err := f.window(w).imageErr; err != nil {
		return nil, err
	}
	return make([]byte, int(width)*int(height)*4), nil
}

func (f *fakeServer) origin(w xproto.Window) (int32, int32) { return 10, 20 }

func (f *fakeServer) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func rgb32(w, h uint16) geometry {
	return geometry{Width: w, Height: h, Depth: 24, BitsPerPixel: 32}
}

// desktop has an editor (pid 100), a terminal (pid 200) and a window
// without _NET_WM_PID.
func desktop() *fakeServer {
	return &fakeServer{
		order: []xproto.Window{0x400001, 0x600001, 0x800001},
		windows: map[xproto.Window]*fakeWindow{
			0x400001: {title: "editor", pid: 100, geom: rgb32(64, 32)},
			0x600001: {title: "terminal", pid: 200, geom: rgb32(32, 16)},
			0x800001: {title: "xclock", geom: rgb32(16, 16)},
		},
	}
}

type frame struct {
	code  capture.Result
	width int32
	left  int32
	top   int32
}

type recorder struct {
	mu  sync.Mutex
	got []frame
}

func (r *recorder) handle(code capture.Result, f *capture.RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fr := frame{code: code}
	if f != nil {
		if f.Format != yuv.FormatBGRA || int(f.Stride)*int(f.Height) != len(f.Data) {
			fr.code = -1
		}
		fr.width, fr.left, fr.top = f.Width, f.Left, f.Top
	}
	r.got = append(r.got, fr)
}

func (r *recorder) frames() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame(nil), r.got...)
}

func TestBackend_SourcesSkipExcludedApplications(t *testing.T) {
	srv := desktop()
	b := newBackend(srv)
	b.SetExcludedApplications([]uint64{200})

	sources, err := b.Sources()
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, s := range sources {
		if !s.IsWindow() {
			t.Errorf("source %v is not a window", s)
		}
		titles = append(titles, s.Title)
	}
	if len(titles) != 2 || titles[0] != "editor" || titles[1] != "xclock" {
		t.Errorf("titles = %v, want [editor xclock]", titles)
	}

	tests := []struct {
		name string
		id   uint64
		want bool
	}{
		{"listed", 0x400001, true},
		{"no pid", 0x800001, true},
		{"excluded", 0x600001, false},
		{"unknown", 0xdead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.SelectSource(tt.id); got != tt.want {
				t.Errorf("SelectSource(0x%x) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestBackend_SelectSourceRejectsUnmapped(t *testing.T) {
	srv := desktop()
	srv.windows[0x400001].unmapped = true
	b := newBackend(srv)
	if _, err := b.Sources(); err != nil {
		t.Fatal(err)
	}
	if b.SelectSource(0x400001) {
		t.Error("SelectSource accepted an unmapped window")
	}
}

func TestBackend_Grab(t *testing.T) {
	tests := []struct {
		name      string
		edit      func(w *fakeWindow)
		exclude   bool
		want      capture.Result
		width     int32
		continues bool
	}{
		{"32 bpp", nil, false, capture.ResultSuccess, 64, true},
		{"24 bpp visual", func(w *fakeWindow) { w.geom.BitsPerPixel = 24 }, false, capture.ResultErrorPermanent, 0, false},
		{"zero size", func(w *fakeWindow) { w.geom.Width = 0 }, false, capture.ResultErrorTemporary, 0, true},
		{"window destroyed", func(w *fakeWindow) { w.geomErr = xproto.WindowError{} }, false, capture.ResultErrorPermanent, 0, false},
		{"image mismatch", func(w *fakeWindow) { w.imageErr = xproto.MatchError{} }, false, capture.ResultErrorTemporary, 0, true},
		{"excluded after selection", nil, true, capture.ResultErrorTemporary, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := desktop()
			if tt.edit != nil {
				tt.edit(srv.windows[0x400001])
			}
			b := newBackend(srv)
			if _, err := b.Sources(); err != nil {
				t.Fatal(err)
			}
			if !b.SelectSource(0x400001) {
				t.Fatal("SelectSource rejected the editor")
			}
			if tt.exclude {
				b.SetExcludedApplications([]uint64{100})
			}

			rec := &recorder{}
			if got := b.grab(rec.handle); got != tt.continues {
				t.Errorf("grab() = %v, want %v", got, tt.continues)
			}
			got := rec.frames()
			if len(got) != 1 {
				t.Fatalf("got %d results, want 1", len(got))
			}
			if got[0].code != tt.want || got[0].width != tt.width {
				t.Errorf("result = %+v, want code %v width %d", got[0], tt.want, tt.width)
			}
			if tt.want == capture.ResultSuccess && (got[0].left != 10 || got[0].top != 20) {
				t.Errorf("origin = (%d, %d), want (10, 20)", got[0].left, got[0].top)
			}
		})
	}
}

func TestBackend_SelectSourceWhileCapturing(t *testing.T) {
	b := newBackend(desktop(), WithFPS(60))
	if _, err := b.Sources(); err != nil {
		t.Fatal(err)
	}
	b.SelectSource(0x400001)

	rec := &recorder{}
	if err := b.Start(rec.handle); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	waitFor := func(width int32) int {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			for i, f := range rec.frames() {
				if f.width == width {
					return i
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("no frame of width %d", width)
		return -1
	}
	waitFor(64)

	if !b.SelectSource(0x600001) {
		t.Fatal("SelectSource rejected the terminal while capturing")
	}
	first := waitFor(32)
	for len(rec.frames()) < first+4 {
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()

	for i, f := range rec.frames()[first:] {
		if f.width != 32 {
			t.Errorf("frame %d after the switch has width %d, want 32", first+i, f.width)
		}
	}
}

func TestBackend_Close(t *testing.T) {
	srv := desktop()
	b := newBackend(srv)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !srv.closed {
		t.Error("Close did not close the connection")
	}
	if err := b.Start(func(capture.Result, *capture.RawFrame) {}); err == nil {
		t.Error("Start succeeded without a selected window")
	}
}
