// Package media holds the sink side of the capture pipeline: I420 video
// frames, a lock-protected shared frame and a fan-out video source.
package media

import (
	"errors"
	"fmt"

	"github.com/junsooki/deskcast/internal/yuv"
)

var (
	ErrInvalidResolution  = errors.New("media: invalid resolution")
	ErrResolutionMismatch = errors.New("media: frame resolution does not match")
)

// Rotation is the clockwise rotation a consumer applies before display.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// VideoFrame is an I420 picture with its presentation metadata.
type VideoFrame struct {
	Rotation Rotation
	// TimestampUs is microseconds since the first frame of the stream.
	TimestampUs int64
	Buffer      *yuv.I420Buffer
}

// NewVideoFrame allocates a frame at res.
func NewVideoFrame(res Resolution) (*VideoFrame, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResolution, res)
	}
	return &VideoFrame{Buffer: yuv.NewI420Buffer(res.Width, res.Height)}, nil
}

func (f *VideoFrame) Resolution() Resolution {
	if f == nil || f.Buffer == nil {
		return Resolution{}
	}
	return Resolution{Width: f.Buffer.Width, Height: f.Buffer.Height}
}

// CopyTo copies pixels and metadata into dst, which must already hold a
// buffer of the same resolution.
func (f *VideoFrame) CopyTo(dst *VideoFrame) error {
	if dst == nil || dst.Buffer == nil || f.Buffer == nil {
		return yuv.ErrNilBuffer
	}
	if err := f.Buffer.CopyTo(dst.Buffer); err != nil {
		return err
	}
	dst.Rotation = f.Rotation
	dst.TimestampUs = f.TimestampUs
	return nil
}
