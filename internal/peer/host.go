package peer

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/deskcast/internal/transport"
)

// Host is the capturing side of one viewer connection.
type Host struct {
	pc        *webrtc.PeerConnection
	sig       Signaler
	transport *transport.DataChannelTransport

	mu     sync.Mutex
	peerID string // the viewer we're connected to

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHost creates a Host peer and its frames DataChannel. Frames are sent
// unordered without retransmits; a late frame is worthless.
func NewHost(sig Signaler) (*Host, error) {
	pc, err := NewPeerConnection()
	if err != nil {
		return nil, err
	}

	h := &Host{
		pc:     pc,
		sig:    sig,
		closed: make(chan struct{}),
	}

	ordered := false
	maxRetransmits := uint16(0)
	framesDC, err := pc.CreateDataChannel(FramesLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	h.transport = transport.NewDataChannelTransport(framesDC)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		sendCandidate(sig, h.viewer(), c)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("peer connection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			h.Close()
		}
	})

	return h, nil
}

// Transport returns the DataChannelTransport for sending frames.
func (h *Host) Transport() *transport.DataChannelTransport {
	return h.transport
}

// Closed is closed once the connection has failed or was closed.
func (h *Host) Closed() <-chan struct{} {
	return h.closed
}

func (h *Host) viewer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peerID
}

// HandleOffer processes an incoming offer from a viewer.
func (h *Host) HandleOffer(from string, payload json.RawMessage) error {
	h.mu.Lock()
	h.peerID = from
	h.mu.Unlock()

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return err
	}
	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return h.sig.SendAnswer(from, answerJSON)
}

// HandleICECandidate adds a remote ICE candidate.
func (h *Host) HandleICECandidate(payload json.RawMessage) error {
	return addICECandidate(h.pc, payload)
}

// Close shuts down the peer connection.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		go h.pc.Close()
	})
}
