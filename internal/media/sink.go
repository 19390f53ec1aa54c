package media

import "sync/atomic"

// LatestFrameSink keeps a copy of the newest frame and signals a consumer
// goroutine. A slow consumer skips frames instead of queueing them.
type LatestFrameSink struct {
	shared  *SharedFrame
	ready   chan struct{}
	dropped atomic.Uint64
}

func NewLatestFrameSink(res Resolution) (*LatestFrameSink, error) {
	shared, err := NewSharedFrame(res)
	if err != nil {
		return nil, err
	}
	return &LatestFrameSink{
		shared: shared,
		ready:  make(chan struct{}, 1),
	}, nil
}

func (s *LatestFrameSink) OnFrame(f *VideoFrame) {
	if err := s.shared.Update(f.CopyTo); err != nil {
		return
	}
	select {
	case s.ready <- struct{}{}:
	default:
		// The previous frame was never read.
		s.dropped.Add(1)
	}
}

// Frames delivers a signal whenever a new frame is available.
func (s *LatestFrameSink) Frames() <-chan struct{} {
	return s.ready
}

// Latest copies the newest frame into dst.
func (s *LatestFrameSink) Latest(dst *VideoFrame) bool {
	return s.shared.CopyLatest(dst)
}

// Dropped counts frames overwritten before a consumer read them.
func (s *LatestFrameSink) Dropped() uint64 {
	return s.dropped.Load()
}
