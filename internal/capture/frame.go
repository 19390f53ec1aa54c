package capture

import (
	"sync/atomic"

	"github.com/junsooki/deskcast/internal/yuv"
)

// RawFrame is the frame descriptor a backend hands to its Handler. Data
// belongs to the backend and is only read during the handler call.
type RawFrame struct {
	Width  int32
	Height int32
	// Stride is the number of bytes per row; it may exceed Width*4.
	Stride uint32
	Left   int32
	Top    int32
	Format yuv.PixelFormat
	Data   []byte
}

func (f *RawFrame) valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	if uint64(f.Stride) < uint64(f.Width)*4 {
		return false
	}
	return uint64(len(f.Data)) >= uint64(f.Stride)*uint64(f.Height)
}

// Frame is a borrowed view of a captured frame. It is only valid while the
// Callback that received it is running; once the callback returns the view
// is released, Valid reports false and Data returns nil. Copy the pixels
// (or convert them) before returning.
type Frame struct {
	raw atomic.Pointer[RawFrame]
}

func newFrame(raw *RawFrame) *Frame {
	f := &Frame{}
	f.raw.Store(raw)
	return f
}

func (f *Frame) release() {
	f.raw.Store(nil)
}

// Valid reports whether the view may still be read.
func (f *Frame) Valid() bool {
	return f.raw.Load() != nil
}

func (f *Frame) Width() int32 {
	if r := f.raw.Load(); r != nil {
		return r.Width
	}
	return 0
}

func (f *Frame) Height() int32 {
	if r := f.raw.Load(); r != nil {
		return r.Height
	}
	return 0
}

// Stride returns the bytes per row of Data.
func (f *Frame) Stride() uint32 {
	if r := f.raw.Load(); r != nil {
		return r.Stride
	}
	return 0
}

// Left returns the horizontal offset of the frame on the desktop.
func (f *Frame) Left() int32 {
	if r := f.raw.Load(); r != nil {
		return r.Left
	}
	return 0
}

// Top returns the vertical offset of the frame on the desktop.
func (f *Frame) Top() int32 {
	if r := f.raw.Load(); r != nil {
		return r.Top
	}
	return 0
}

func (f *Frame) Format() yuv.PixelFormat {
	if r := f.raw.Load(); r != nil {
		return r.Format
	}
	return yuv.FormatBGRA
}

// Data returns Stride*Height bytes of pixels, or nil once released.
func (f *Frame) Data() []byte {
	r := f.raw.Load()
	if r == nil {
		return nil
	}
	return r.Data[:int(r.Stride)*int(r.Height)]
}
