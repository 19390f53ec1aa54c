package transport

// FrameSender sends encoded video frames.
type FrameSender interface {
	SendFrame(m *FrameMessage) error
}

// FrameReceiver receives encoded video frames.
type FrameReceiver interface {
	OnFrame(callback func(m *FrameMessage))
}
