package encoder

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/junsooki/deskcast/internal/media"
	"github.com/junsooki/deskcast/internal/yuv"
)

// JPEGEncoder encodes frames as JPEG. It is safe for concurrent use.
type JPEGEncoder struct {
	mu      sync.Mutex
	quality int
	// rgba is reused while the resolution stays the same.
	rgba *image.RGBA
}

// NewJPEGEncoder creates a JPEG encoder with the given quality (1-100).
func NewJPEGEncoder(quality int) *JPEGEncoder {
	e := &JPEGEncoder{}
	e.SetQuality(quality)
	return e
}

func (e *JPEGEncoder) SetQuality(quality int) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	e.mu.Lock()
	e.quality = quality
	e.mu.Unlock()
}

func (e *JPEGEncoder) Encode(f *media.VideoFrame) ([]byte, error) {
	if f == nil || f.Buffer == nil {
		return nil, yuv.ErrNilBuffer
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	w, h := f.Buffer.Width, f.Buffer.Height
	if e.rgba == nil || e.rgba.Rect.Dx() != w || e.rgba.Rect.Dy() != h {
		e.rgba = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	// image.YCbCr is full range; expand the studio-range planes ourselves.
	if err := yuv.ToRGBA(f.Buffer, e.rgba); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(256 * 1024) // pre-allocate 256KB
	if err := jpeg.Encode(&buf, e.rgba, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
