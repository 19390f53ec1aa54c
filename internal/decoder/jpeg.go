package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// JPEGDecoder decodes JPEG bytes into *image.RGBA. The returned image is
// reused by the next Decode of the same size; callers copy what they keep.
type JPEGDecoder struct {
	rgba *image.RGBA
}

func NewJPEGDecoder() *JPEGDecoder {
	return &JPEGDecoder{}
}

func (d *JPEGDecoder) Decode(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	b := img.Bounds()
	if d.rgba == nil || d.rgba.Rect != b {
		d.rgba = image.NewRGBA(b)
	}
	draw.Draw(d.rgba, b, img, b.Min, draw.Src)
	return d.rgba, nil
}
