package media

import "sync"

// SharedFrame is one VideoFrame, allocated once, shared between the capture
// goroutine that writes it and consumers that copy it out. The lock is only
// held while converting or copying, never while encoding.
type SharedFrame struct {
	mu      sync.Mutex
	frame   *VideoFrame
	written bool
}

func NewSharedFrame(res Resolution) (*SharedFrame, error) {
	f, err := NewVideoFrame(res)
	if err != nil {
		return nil, err
	}
	return &SharedFrame{frame: f}, nil
}

func (s *SharedFrame) Resolution() Resolution {
	return s.frame.Resolution()
}

// Update runs fn with the lock held. The frame counts as written only if fn
// returns nil.
func (s *SharedFrame) Update(fn func(f *VideoFrame) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.frame); err != nil {
		return err
	}
	s.written = true
	return nil
}

// CopyLatest copies the last written frame into dst. It reports false if
// nothing was written yet or dst has another resolution.
func (s *SharedFrame) CopyLatest(dst *VideoFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.written {
		return false
	}
	return s.frame.CopyTo(dst) == nil
}
