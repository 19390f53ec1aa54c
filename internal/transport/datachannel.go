package transport

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// maxBuffered is how much unsent data the frames channel may hold before new
// frames are dropped.
const maxBuffered = 4 << 20

var (
	ErrNoChannel = errors.New("transport: frames data channel not set")
	ErrNotOpen   = errors.New("transport: frames data channel not open")
	ErrCongested = errors.New("transport: frames data channel congested")
)

// channel is the part of *webrtc.DataChannel the transport uses.
type channel interface {
	Send(data []byte) error
	OnMessage(f func(msg webrtc.DataChannelMessage))
	ReadyState() webrtc.DataChannelState
	BufferedAmount() uint64
}

// DataChannelTransport sends and receives frame messages over a WebRTC
// DataChannel.
type DataChannelTransport struct {
	mu      sync.Mutex
	frames  channel
	onFrame func(m *FrameMessage)

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewDataChannelTransport wraps the frames DataChannel, which may be set
// later with SetFramesChannel.
func NewDataChannelTransport(frames *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{}
	if frames != nil {
		t.setChannel(frames)
	}
	return t
}

// SendFrame stamps m with the next sequence number and sends it. Frames are
// dropped with ErrCongested while the channel is backed up.
func (t *DataChannelTransport) SendFrame(m *FrameMessage) error {
	t.mu.Lock()
	ch := t.frames
	t.mu.Unlock()
	if ch == nil {
		return ErrNoChannel
	}
	if ch.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	if ch.BufferedAmount() > maxBuffered {
		t.dropped.Add(1)
		return ErrCongested
	}

	m.Seq = t.seq.Add(1)
	data, err := MarshalFrame(m)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

func (t *DataChannelTransport) OnFrame(cb func(m *FrameMessage)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}

// SetFramesChannel sets or replaces the frames DataChannel (used when receiving negotiated channels).
func (t *DataChannelTransport) SetFramesChannel(dc *webrtc.DataChannel) {
	t.setChannel(dc)
}

// Dropped counts frames refused because the channel was congested.
func (t *DataChannelTransport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *DataChannelTransport) setChannel(ch channel) {
	t.mu.Lock()
	t.frames = ch
	t.mu.Unlock()
	ch.OnMessage(t.receive)
}

func (t *DataChannelTransport) receive(msg webrtc.DataChannelMessage) {
	m, err := UnmarshalFrame(msg.Data)
	if err != nil {
		log.Printf("drop frame: %v", err)
		return
	}
	t.mu.Lock()
	cb := t.onFrame
	t.mu.Unlock()
	if cb != nil {
		cb(m)
	}
}
