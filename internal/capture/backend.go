package capture

// Handler receives every capture attempt of a Backend. frame is nil unless
// result is ResultSuccess.
type Handler func(result Result, frame *RawFrame)

// Backend is the platform grabber behind a Session. The session never
// assumes anything about the OS API underneath.
//
// Start begins asynchronous capture and must not invoke the handler before it
// returns on the calling goroutine. Stop must wait until the backend's own
// capture goroutine has exited. CaptureFrame may invoke the handler
// synchronously on the caller's goroutine. Methods may be called from
// several goroutines at once.
type Backend interface {
	Sources() ([]Source, error)
	SelectSource(id uint64) bool
	Start(h Handler) error
	Stop()
	CaptureFrame()
	SetExcludedApplications(ids []uint64)
	Close() error
}
