// Package yuv converts packed 4-byte-per-pixel frames into planar I420.
package yuv

import "fmt"

// I420Buffer is a planar 4:2:0 frame: a full-resolution luma plane followed
// by two chroma planes subsampled by two in both directions.
type I420Buffer struct {
	Width  int
	Height int

	Y []byte
	U []byte
	V []byte

	StrideY int
	StrideU int
	StrideV int
}

// NewI420Buffer allocates a tightly packed buffer for a width x height frame.
// Non-positive dimensions yield an empty buffer.
func NewI420Buffer(width, height int) *I420Buffer {
	if width <= 0 || height <= 0 {
		return &I420Buffer{}
	}
	cw, ch := chromaSize(width, height)
	return &I420Buffer{
		Width:   width,
		Height:  height,
		Y:       make([]byte, width*height),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
		StrideY: width,
		StrideU: cw,
		StrideV: cw,
	}
}

// ChromaWidth is the width of the U and V planes.
func (b *I420Buffer) ChromaWidth() int {
	w, _ := chromaSize(b.Width, b.Height)
	return w
}

// ChromaHeight is the height of the U and V planes.
func (b *I420Buffer) ChromaHeight() int {
	_, h := chromaSize(b.Width, b.Height)
	return h
}

// Strides returns the luma and chroma strides.
func (b *I420Buffer) Strides() (y, u, v int) {
	return b.StrideY, b.StrideU, b.StrideV
}

// Planes returns the three planes for writing.
func (b *I420Buffer) Planes() (y, u, v []byte) {
	return b.Y, b.U, b.V
}

// CopyTo copies the visible region of every plane into dst. Both buffers must
// have the same resolution; strides may differ.
func (b *I420Buffer) CopyTo(dst *I420Buffer) error {
	if dst == nil {
		return ErrNilBuffer
	}
	if dst.Width != b.Width || dst.Height != b.Height {
		return fmt.Errorf("%w: copy %dx%d into %dx%d", ErrGeometryMismatch, b.Width, b.Height, dst.Width, dst.Height)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return nil
	}
	if err := dst.validate(); err != nil {
		return err
	}
	copyPlane(dst.Y, dst.StrideY, b.Y, b.StrideY, b.Width, b.Height)
	cw, ch := chromaSize(b.Width, b.Height)
	copyPlane(dst.U, dst.StrideU, b.U, b.StrideU, cw, ch)
	copyPlane(dst.V, dst.StrideV, b.V, b.StrideV, cw, ch)
	return nil
}

// validate checks that the planes are large enough for the declared
// geometry and strides.
func (b *I420Buffer) validate() error {
	cw, ch := chromaSize(b.Width, b.Height)
	switch {
	case b.StrideY < b.Width || b.StrideU < cw || b.StrideV < cw:
		return fmt.Errorf("%w: plane strides %d/%d/%d for %dx%d", ErrBadStride, b.StrideY, b.StrideU, b.StrideV, b.Width, b.Height)
	case len(b.Y) < b.StrideY*(b.Height-1)+b.Width,
		len(b.U) < b.StrideU*(ch-1)+cw,
		len(b.V) < b.StrideV*(ch-1)+cw:
		return fmt.Errorf("%w: destination planes", ErrShortBuffer)
	}
	return nil
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride int, w, h int) {
	for row := 0; row < h; row++ {
		copy(dst[row*dstStride:row*dstStride+w], src[row*srcStride:row*srcStride+w])
	}
}

func chromaSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	return (width + 1) / 2, (height + 1) / 2
}
