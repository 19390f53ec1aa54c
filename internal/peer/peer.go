package peer

import (
	"encoding/json"
	"log"

	"github.com/pion/webrtc/v4"
)

// FramesLabel is the label of the DataChannel carrying frame messages.
const FramesLabel = "frames"

// ICEServers is the default ICE server configuration.
var ICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
}

// Signaler delivers SDP and ICE payloads to the remote side.
type Signaler interface {
	SendOffer(target string, payload json.RawMessage) error
	SendAnswer(target string, payload json.RawMessage) error
	SendICECandidate(target string, payload json.RawMessage) error
}

// NewPeerConnection creates a configured PeerConnection.
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{
		ICEServers: ICEServers,
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("peer connection state: %s", state.String())
	})
	return pc, nil
}

func addICECandidate(pc *webrtc.PeerConnection, payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return err
	}
	return pc.AddICECandidate(candidate)
}

func sendCandidate(sig Signaler, target string, c *webrtc.ICECandidate) {
	if c == nil || target == "" {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		log.Printf("marshal ICE candidate: %v", err)
		return
	}
	_ = sig.SendICECandidate(target, data)
}
