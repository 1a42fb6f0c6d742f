package domain

import "github.com/pion/webrtc/v3"

// SignalMessage is the envelope exchanged over the voice rendezvous socket to
// negotiate one mesh edge.
type SignalMessage struct {
	Type      string                     `json:"type"` // "register", "offer", "answer", "ice-candidate", "bye"
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id,omitempty"`
}
