package encoder

import "github.com/junsooki/deskcast/internal/media"

// Encoder compresses video frames for transport.
type Encoder interface {
	Encode(f *media.VideoFrame) ([]byte, error)
	SetQuality(quality int)
}
