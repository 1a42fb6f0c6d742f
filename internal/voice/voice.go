package voice

import (
	"context"
	"errors"
)

// ErrMicUnavailable means capture permission was denied or no device exists.
// Voice degrades to muted; session synchronization is unaffected.
var ErrMicUnavailable = errors.New("microphone unavailable")

// Stream is an audio stream handle. Enable toggles the outbound track without
// renegotiating the connection.
type Stream interface {
	Enable(on bool)
	Close()
}

// Call is one active mesh edge. Inbound calls are established by Answer;
// outbound calls are established by Endpoint.Dial and Answer is a no-op.
type Call interface {
	PeerAddress() string
	Answer(local Stream) error
	OnRemoteStream(fn func(Stream))
	Close()
}

// Endpoint is a client's presence on the peer network. Its address is the
// ephemeral rendezvous identifier other clients dial.
type Endpoint interface {
	Address() string
	OnIncomingCall(fn func(Call))
	Dial(remoteAddress string, local Stream) (Call, error)
	Close()
}

// Network creates endpoints. NAT traversal is the implementation's problem.
type Network interface {
	CreateEndpoint(ctx context.Context) (Endpoint, error)
}

// Capture acquires the local microphone.
type Capture interface {
	RequestMicrophone(ctx context.Context) (Stream, error)
}

// NullCapture is used where no capture device is wired in; the mesh then
// joins listen-only.
type NullCapture struct{}

func (NullCapture) RequestMicrophone(context.Context) (Stream, error) {
	return nil, ErrMicUnavailable
}
