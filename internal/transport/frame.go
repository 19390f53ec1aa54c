package transport

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrBadFrame = errors.New("transport: malformed frame message")

// FrameMessage is one encoded frame on the wire.
type FrameMessage struct {
	Seq         uint64 `msgpack:"seq"`
	TimestampUs int64  `msgpack:"ts_us"`
	Width       int    `msgpack:"w"`
	Height      int    `msgpack:"h"`
	Rotation    int    `msgpack:"rot"`
	JPEG        []byte `msgpack:"jpeg"`
}

func MarshalFrame(m *FrameMessage) ([]byte, error) {
	return msgpack.Marshal(m)
}

// UnmarshalFrame decodes and sanity-checks a frame message.
func UnmarshalFrame(data []byte) (*FrameMessage, error) {
	var m FrameMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if m.Width <= 0 || m.Height <= 0 || len(m.JPEG) == 0 {
		return nil, fmt.Errorf("%w: %dx%d with %d bytes", ErrBadFrame, m.Width, m.Height, len(m.JPEG))
	}
	switch m.Rotation {
	case 0, 90, 180, 270:
	default:
		return nil, fmt.Errorf("%w: rotation %d", ErrBadFrame, m.Rotation)
	}
	return &m, nil
}
