package media

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// VideoSink consumes frames pushed by a VideoSource. The frame is only valid
// during OnFrame; a sink copies whatever it keeps.
type VideoSink interface {
	OnFrame(f *VideoFrame)
}

// VideoSource fans captured frames out to its sinks. Every frame it accepts
// has the resolution negotiated at construction.
type VideoSource struct {
	res Resolution

	mu    sync.RWMutex
	sinks []VideoSink

	captured atomic.Uint64
}

func NewVideoSource(res Resolution) (*VideoSource, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResolution, res)
	}
	return &VideoSource{res: res}, nil
}

func (s *VideoSource) Resolution() Resolution {
	return s.res
}

// AddSink registers sink. Adding the same sink twice is a no-op.
func (s *VideoSource) AddSink(sink VideoSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sinks {
		if existing == sink {
			return
		}
	}
	s.sinks = append(s.sinks, sink)
}

func (s *VideoSource) RemoveSink(sink VideoSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

// CaptureFrame pushes f to every sink on the calling goroutine.
func (s *VideoSource) CaptureFrame(f *VideoFrame) error {
	if got := f.Resolution(); got != s.res {
		return fmt.Errorf("%w: got %s, source is %s", ErrResolutionMismatch, got, s.res)
	}
	s.captured.Add(1)

	s.mu.RLock()
	sinks := make([]VideoSink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.RUnlock()

	for _, sink := range sinks {
		sink.OnFrame(f)
	}
	return nil
}

// FramesCaptured counts frames accepted by CaptureFrame.
func (s *VideoSource) FramesCaptured() uint64 {
	return s.captured.Load()
}
