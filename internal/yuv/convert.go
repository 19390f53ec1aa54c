package yuv

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrGeometryMismatch = errors.New("yuv: frame geometry does not match buffer")
	ErrShortBuffer      = errors.New("yuv: source buffer too short")
	ErrBadStride        = errors.New("yuv: stride smaller than row")
	ErrNilBuffer        = errors.New("yuv: nil buffer")
)

// PixelFormat is the byte order of a packed 4-byte-per-pixel buffer.
type PixelFormat int

const (
	// FormatBGRA is B,G,R,A in memory. Desktop frames and X11 ZPixmap images
	// on little-endian hosts use it.
	FormatBGRA PixelFormat = iota
	// FormatRGBA is R,G,B,A in memory, the layout of image.RGBA.
	FormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	case FormatRGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// offsets returns the byte positions of red, green and blue inside a pixel.
func (f PixelFormat) offsets() (r, g, b int) {
	if f == FormatRGBA {
		return 0, 1, 2
	}
	return 2, 1, 0
}

// ConvertToI420 converts a packed frame of width x height pixels into dst,
// overwriting every visible sample of all three planes. It allocates nothing.
//
// The frame size must equal the buffer size; there is no resampling. For odd
// dimensions the last chroma sample averages only the pixels that exist.
// Coefficients are BT.601 studio range.
func ConvertToI420(src []byte, srcStride int, format PixelFormat, dst *I420Buffer, width, height int) error {
	if dst == nil {
		return ErrNilBuffer
	}
	if width != dst.Width || height != dst.Height {
		return fmt.Errorf("%w: frame %dx%d, buffer %dx%d", ErrGeometryMismatch, width, height, dst.Width, dst.Height)
	}
	if width <= 0 || height <= 0 {
		return nil
	}
	if srcStride < width*4 {
		return fmt.Errorf("%w: stride %d for width %d", ErrBadStride, srcStride, width)
	}
	if need := srcStride*(height-1) + width*4; len(src) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(src), need)
	}
	if err := dst.validate(); err != nil {
		return err
	}

	rOff, gOff, bOff := format.offsets()
	for y := 0; y < height; y += 2 {
		row0 := src[y*srcStride:]
		row1 := row0
		lastRow := y+1 >= height
		if !lastRow {
			row1 = src[(y+1)*srcStride:]
		}
		y0 := dst.Y[y*dst.StrideY:]
		var y1 []byte
		if !lastRow {
			y1 = dst.Y[(y+1)*dst.StrideY:]
		}
		u := dst.U[(y/2)*dst.StrideU:]
		v := dst.V[(y/2)*dst.StrideV:]

		for x := 0; x < width; x += 2 {
			i0 := x * 4
			i1 := i0
			if x+1 < width {
				i1 = i0 + 4
			}

			r00, g00, b00 := int(row0[i0+rOff]), int(row0[i0+gOff]), int(row0[i0+bOff])
			r01, g01, b01 := int(row0[i1+rOff]), int(row0[i1+gOff]), int(row0[i1+bOff])
			r10, g10, b10 := int(row1[i0+rOff]), int(row1[i0+gOff]), int(row1[i0+bOff])
			r11, g11, b11 := int(row1[i1+rOff]), int(row1[i1+gOff]), int(row1[i1+bOff])

			y0[x] = luma(r00, g00, b00)
			if x+1 < width {
				y0[x+1] = luma(r01, g01, b01)
			}
			if !lastRow {
				y1[x] = luma(r10, g10, b10)
				if x+1 < width {
					y1[x+1] = luma(r11, g11, b11)
				}
			}

			r := (r00 + r01 + r10 + r11 + 2) >> 2
			g := (g00 + g01 + g10 + g11 + 2) >> 2
			b := (b00 + b01 + b10 + b11 + 2) >> 2
			u[x/2] = chromaU(r, g, b)
			v[x/2] = chromaV(r, g, b)
		}
	}
	return nil
}

// ToRGBA expands src into dst with the inverse BT.601 transform. dst must
// cover exactly src's resolution.
func ToRGBA(src *I420Buffer, dst *image.RGBA) error {
	if src == nil || dst == nil {
		return ErrNilBuffer
	}
	b := dst.Bounds()
	if b.Dx() != src.Width || b.Dy() != src.Height {
		return fmt.Errorf("%w: buffer %dx%d, image %dx%d", ErrGeometryMismatch, src.Width, src.Height, b.Dx(), b.Dy())
	}
	for y := 0; y < src.Height; y++ {
		yRow := src.Y[y*src.StrideY:]
		uRow := src.U[(y/2)*src.StrideU:]
		vRow := src.V[(y/2)*src.StrideV:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < src.Width; x++ {
			c := 298 * (int(yRow[x]) - 16)
			d := int(uRow[x/2]) - 128
			e := int(vRow[x/2]) - 128
			o := x * 4
			out[o+0] = clamp((c + 409*e + 128) >> 8)
			out[o+1] = clamp((c - 100*d - 208*e + 128) >> 8)
			out[o+2] = clamp((c + 516*d + 128) >> 8)
			out[o+3] = 0xff
		}
	}
	return nil
}

func luma(r, g, b int) byte {
	return byte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func chromaU(r, g, b int) byte {
	return byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
}

func chromaV(r, g, b int) byte {
	return byte(((112*r - 94*g - 18*b + 128) >> 8) + 128)
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
