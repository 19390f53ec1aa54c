package coregraphics

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
    void*  data;
    size_t size;
    int    width;
    int    height;
    size_t bytesPerRow;
} FrameData;

typedef struct {
    uint32_t id;
    int32_t  pid;
    int32_t  layer;
    char     title[256];
} WindowInfo;

// The window list image functions are missing from the macOS 15 SDK headers
// but still present in the CoreGraphics dylib. Load them dynamically.
typedef CGImageRef (*CreateImageFunc)(CGRect, uint32_t, uint32_t, uint32_t);
typedef CGImageRef (*CreateImageFromArrayFunc)(CGRect, CFArrayRef, uint32_t);

static CreateImageFunc createImage(void) {
    static CreateImageFunc fn = NULL;
    if (!fn) {
        fn = (CreateImageFunc)dlsym(RTLD_DEFAULT, "CGWindowListCreateImage");
    }
    return fn;
}

static CreateImageFromArrayFunc createImageFromArray(void) {
    static CreateImageFromArrayFunc fn = NULL;
    if (!fn) {
        fn = (CreateImageFromArrayFunc)dlsym(RTLD_DEFAULT, "CGWindowListCreateImageFromArray");
    }
    return fn;
}

static FrameData renderImage(CGImageRef image) {
    FrameData result = {0};
    if (!image) {
        return result;
    }

    result.width  = (int)CGImageGetWidth(image);
    result.height = (int)CGImageGetHeight(image);
    result.bytesPerRow = result.width * 4;
    result.size        = result.bytesPerRow * result.height;
    result.data        = malloc(result.size);
    if (!result.data) {
        CGImageRelease(image);
        result.size = 0;
        return result;
    }

    CGColorSpaceRef cs = CGColorSpaceCreateDeviceRGB();
    CGContextRef ctx = CGBitmapContextCreate(
        result.data,
        result.width,
        result.height,
        8,
        result.bytesPerRow,
        cs,
        kCGImageAlphaPremultipliedLast
    );
    CGContextDrawImage(ctx, CGRectMake(0, 0, result.width, result.height), image);
    CGContextRelease(ctx);
    CGColorSpaceRelease(cs);
    CGImageRelease(image);
    return result;
}

FrameData captureDisplay(CGDirectDisplayID displayID) {
    FrameData empty = {0};
    CreateImageFunc fn = createImage();
    if (!fn) {
        return empty;
    }
    // kCGWindowListOptionOnScreenOnly = 1, kCGNullWindowID = 0, kCGWindowImageDefault = 0
    return renderImage(fn(CGDisplayBounds(displayID), 1, 0, 0));
}

// captureDisplayWithout composites the given windows only, front to back.
// Desktop elements are windows too and must be in the list.
FrameData captureDisplayWithout(CGDirectDisplayID displayID, uint32_t* ids, int n) {
    FrameData empty = {0};
    CreateImageFromArrayFunc fn = createImageFromArray();
    if (!fn) {
        return empty;
    }
    // The array holds window ids as pointer-sized values, not objects.
    const void** values = malloc(sizeof(void*) * n);
    if (!values) {
        return empty;
    }
    for (int i = 0; i < n; i++) {
        values[i] = (const void*)(uintptr_t)ids[i];
    }
    CFArrayRef arr = CFArrayCreate(NULL, values, n, NULL);
    free(values);
    if (!arr) {
        return empty;
    }
    CGImageRef image = fn(CGDisplayBounds(displayID), arr, 0);
    CFRelease(arr);
    return renderImage(image);
}

FrameData captureWindow(uint32_t windowID) {
    FrameData empty = {0};
    CreateImageFunc fn = createImage();
    if (!fn) {
        return empty;
    }
    // kCGWindowListOptionIncludingWindow = 8, kCGWindowImageBoundsIgnoreFraming = 1
    return renderImage(fn(CGRectNull, 8, windowID, 1));
}

void freeFrameData(void* data) {
    free(data);
}

int activeDisplays(CGDirectDisplayID* out, int max) {
    uint32_t count = 0;
    if (CGGetActiveDisplayList(max, out, &count) != kCGErrorSuccess) {
        return 0;
    }
    return (int)count;
}

CGRect displayBounds(CGDirectDisplayID id) {
    return CGDisplayBounds(id);
}

static int32_t numberValue(CFDictionaryRef d, CFStringRef key) {
    int32_t v = 0;
    CFNumberRef n = CFDictionaryGetValue(d, key);
    if (n) {
        CFNumberGetValue(n, kCFNumberSInt32Type, &v);
    }
    return v;
}

// copyWindows returns the on-screen windows, front to back, in an array the
// caller frees.
WindowInfo* copyWindows(int includeDesktop, int* count) {
    *count = 0;
    CGWindowListOption opts = kCGWindowListOptionOnScreenOnly;
    if (!includeDesktop) {
        opts |= kCGWindowListExcludeDesktopElements;
    }
    CFArrayRef arr = CGWindowListCopyWindowInfo(opts, kCGNullWindowID);
    if (!arr) {
        return NULL;
    }
    CFIndex n = CFArrayGetCount(arr);
    WindowInfo* out = calloc(n > 0 ? n : 1, sizeof(WindowInfo));
    if (!out) {
        CFRelease(arr);
        return NULL;
    }
    for (CFIndex i = 0; i < n; i++) {
        CFDictionaryRef d = CFArrayGetValueAtIndex(arr, i);
        WindowInfo* w = &out[i];
        w->id = (uint32_t)numberValue(d, kCGWindowNumber);
        w->pid = numberValue(d, kCGWindowOwnerPID);
        w->layer = numberValue(d, kCGWindowLayer);
        CFStringRef name = CFDictionaryGetValue(d, kCGWindowName);
        if (!name || CFStringGetLength(name) == 0) {
            name = CFDictionaryGetValue(d, kCGWindowOwnerName);
        }
        if (name) {
            CFStringGetCString(name, w->title, sizeof(w->title), kCFStringEncodingUTF8);
        }
    }
    *count = (int)n;
    CFRelease(arr);
    return out;
}

int windowExists(uint32_t windowID) {
    CFArrayRef arr = CGWindowListCopyWindowInfo(kCGWindowListOptionIncludingWindow, windowID);
    if (!arr) {
        return 0;
    }
    int exists = CFArrayGetCount(arr) > 0;
    CFRelease(arr);
    return exists;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/yuv"
	"github.com/pion/logging"
)

const (
	defaultFPS  = 30
	maxDisplays = 16
)

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
			b.log = f.NewLogger("coregraphics")
		}
	}
}

// Backend implements capture.Backend with CoreGraphics. In screen mode
// source ids are CGDirectDisplayIDs, in window mode CGWindowIDs. Excluded
// application ids are process ids.
type Backend struct {
	mode     capture.Mode
	interval time.Duration
	log      logging.LeveledLogger
	ticker   capture.Ticker

	mu       sync.Mutex
	known    map[uint64]bool
	selected uint64
	excluded map[int32]bool
	handler  capture.Handler
}

func New(mode capture.Mode, opts ...Option) *Backend {
	b := &Backend{
		mode:     mode,
		interval: time.Second / defaultFPS,
		known:    map[uint64]bool{},
		excluded: map[int32]bool{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.NewDefaultLoggerFactory().NewLogger("coregraphics")
	}
	return b
}

func displays() []C.CGDirectDisplayID {
	var ids [maxDisplays]C.CGDirectDisplayID
	n := int(C.activeDisplays(&ids[0], maxDisplays))
	return append([]C.CGDirectDisplayID(nil), ids[:n]...)
}

// windows lists the on-screen windows, front to back. Desktop elements
// (wallpaper, desktop icons) are included only when asked for.
func windows(includeDesktop bool) []window {
	var flag, n C.int
	if includeDesktop {
		flag = 1
	}
	infos := C.copyWindows(flag, &n)
	if infos == nil {
		return nil
	}
	defer C.free(unsafe.Pointer(infos))

	list := unsafe.Slice(infos, int(n))
	out := make([]window, len(list))
	for i := range list {
		out[i] = window{
			id:    uint32(list[i].id),
			pid:   int32(list[i].pid),
			layer: int32(list[i].layer),
			title: C.GoString(&list[i].title[0]),
		}
	}
	return out
}

func (b *Backend) Sources() ([]capture.Source, error) {
	var sources []capture.Source
	if b.mode == capture.ModeScreen {
		for i, id := range displays() {
			r := C.displayBounds(id)
			sources = append(sources, capture.Source{
				ID:        uint64(id),
				Title:     fmt.Sprintf("Display %d (%dx%d)", i, int(r.size.width), int(r.size.height)),
				DisplayID: int64(id),
			})
		}
		if len(sources) == 0 {
			return nil, errors.New("coregraphics: no active displays")
		}
	} else {
		b.mu.Lock()
		excluded := b.excluded
		b.mu.Unlock()
		for _, w := range windows(false) {
			if w.layer != 0 || excluded[w.pid] {
				continue
			}
			sources = append(sources, capture.Source{ID: uint64(w.id), Title: w.title, DisplayID: -1})
		}
	}

	known := make(map[uint64]bool, len(sources))
	for _, s := range sources {
		known[s.ID] = true
	}
	b.mu.Lock()
	b.known = known
	b.mu.Unlock()
	return sources, nil
}

// SelectSource picks a source from the last enumeration. While capturing,
// the next grab uses the new source.
func (b *Backend) SelectSource(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[id] || !b.present(id) {
		return false
	}
	b.selected = id
	return true
}

func (b *Backend) present(id uint64) bool {
	if b.mode == capture.ModeWindow {
		return C.windowExists(C.uint32_t(id)) != 0
	}
	for _, d := range displays() {
		if uint64(d) == id {
			return true
		}
	}
	return false
}

func (b *Backend) Start(h capture.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[b.selected] {
		return errors.New("coregraphics: no source selected")
	}
	if b.handler != nil {
		return errors.New("coregraphics: already running")
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

// SetExcludedApplications hides the windows of the given processes from
// display captures and from window enumeration.
func (b *Backend) SetExcludedApplications(ids []uint64) {
	excluded := make(map[int32]bool, len(ids))
	for _, id := range ids {
		excluded[int32(id)] = true
	}
	b.mu.Lock()
	b.excluded = excluded
	b.mu.Unlock()
}

func (b *Backend) Close() error {
	b.Stop()
	return nil
}

// grab captures one frame of the selected source and reports whether
// capture can continue. The handler reads the CoreGraphics bitmap in place;
// it is freed afterwards.
func (b *Backend) grab(h capture.Handler) bool {
	b.mu.Lock()
	id := b.selected
	present := b.present(id)
	excluded := b.excluded
	b.mu.Unlock()
	if !present {
		b.log.Errorf("%s source %d disappeared", b.mode, id)
		h(capture.ResultErrorPermanent, nil)
		return false
	}

	fd := b.render(id, excluded)
	if fd.data == nil {
		h(capture.ResultErrorTemporary, nil)
		return true
	}
	defer C.freeFrameData(fd.data)

	h(capture.ResultSuccess, &capture.RawFrame{
		Width:  int32(fd.width),
		Height: int32(fd.height),
		Stride: uint32(fd.bytesPerRow),
		Format: yuv.FormatRGBA,
		Data:   unsafe.Slice((*byte)(fd.data), int(fd.size)),
	})
	return true
}

func (b *Backend) render(id uint64, excluded map[int32]bool) C.FrameData {
	if b.mode == capture.ModeWindow {
		return C.captureWindow(C.uint32_t(id))
	}
	if len(excluded) == 0 {
		return C.captureDisplay(C.CGDirectDisplayID(id))
	}

	kept, hides := compositeWithout(windows(true), excluded)
	if !hides {
		return C.captureDisplay(C.CGDirectDisplayID(id))
	}
	if len(kept) == 0 {
		return C.FrameData{}
	}
	ids := (*C.uint32_t)(C.malloc(C.size_t(len(kept)) * C.size_t(unsafe.Sizeof(C.uint32_t(0)))))
	defer C.free(unsafe.Pointer(ids))
	dst := unsafe.Slice(ids, len(kept))
	for i, w := range kept {
		dst[i] = C.uint32_t(w)
	}
	return C.captureDisplayWithout(C.CGDirectDisplayID(id), ids, C.int(len(kept)))
}
