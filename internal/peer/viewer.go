package peer

import (
	"encoding/json"
	"log"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/deskcast/internal/transport"
)

// Viewer is the receiving side of a host connection.
type Viewer struct {
	pc        *webrtc.PeerConnection
	sig       Signaler
	transport *transport.DataChannelTransport
	hostID    string
}

// NewViewer creates a Viewer peer for hostID.
func NewViewer(sig Signaler, hostID string) (*Viewer, error) {
	pc, err := NewPeerConnection()
	if err != nil {
		return nil, err
	}

	v := &Viewer{
		pc:        pc,
		sig:       sig,
		transport: transport.NewDataChannelTransport(nil),
		hostID:    hostID,
	}

	// The host creates the frames channel; accept it.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Printf("data channel received: %s", dc.Label())
		if dc.Label() != FramesLabel {
			return
		}
		dc.OnOpen(func() {
			log.Println("frames data channel open")
		})
		v.transport.SetFramesChannel(dc)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		sendCandidate(sig, hostID, c)
	})

	return v, nil
}

// Transport returns the DataChannelTransport.
func (v *Viewer) Transport() *transport.DataChannelTransport {
	return v.transport
}

// Connect initiates the WebRTC connection by creating and sending an offer.
func (v *Viewer) Connect() error {
	// The offer needs a data section for the host's channel to be negotiated.
	if _, err := v.pc.CreateDataChannel("probe", nil); err != nil {
		return err
	}

	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return v.sig.SendOffer(v.hostID, offerJSON)
}

// HandleAnswer processes an incoming SDP answer.
func (v *Viewer) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return err
	}
	return v.pc.SetRemoteDescription(answer)
}

// HandleICECandidate adds a remote ICE candidate.
func (v *Viewer) HandleICECandidate(payload json.RawMessage) error {
	return addICECandidate(v.pc, payload)
}

// Close shuts down the peer connection.
func (v *Viewer) Close() {
	if v.pc != nil {
		v.pc.Close()
	}
}
