package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

// RTPStream is a local stream that can be attached to a peer connection.
type RTPStream interface {
	Stream
	Track() webrtc.TrackLocal
}

// WebRTCNetwork implements Network with one pion PeerConnection per mesh edge.
// Offer/answer/ICE ride a websocket rendezvous endpoint; the endpoint's
// rendezvous id is its dialable address.
type WebRTCNetwork struct {
	signalURL string
	stun      []string
	log       *slog.Logger
}

func NewWebRTCNetwork(signalURL string, stunServers []string, log *slog.Logger) *WebRTCNetwork {
	if log == nil {
		log = slog.Default()
	}
	return &WebRTCNetwork{signalURL: signalURL, stun: stunServers, log: log}
}

func (n *WebRTCNetwork) CreateEndpoint(ctx context.Context) (Endpoint, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.signalURL, nil)
	if err != nil {
		return nil, err
	}

	ep := &webrtcEndpoint{
		id:    uuid.New().String(),
		conn:  conn,
		stun:  n.stun,
		log:   n.log,
		calls: make(map[string]*webrtcCall),
	}

	if err := ep.send(domain.SignalMessage{Type: "register", SenderID: ep.id}); err != nil {
		conn.Close()
		return nil, err
	}

	go ep.readLoop()
	return ep, nil
}

type webrtcEndpoint struct {
	id   string
	conn *websocket.Conn
	stun []string
	log  *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	calls      map[string]*webrtcCall
	onIncoming func(Call)
	closed     bool
}

func (e *webrtcEndpoint) Address() string { return e.id }

func (e *webrtcEndpoint) OnIncomingCall(fn func(Call)) {
	e.mu.Lock()
	e.onIncoming = fn
	e.mu.Unlock()
}

func (e *webrtcEndpoint) Dial(remoteAddress string, local Stream) (Call, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, err
	}

	call := newWebRTCCall(e, remoteAddress, pc)
	if err := call.attachLocal(local); err != nil {
		pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}

	e.mu.Lock()
	e.calls[remoteAddress] = call
	e.mu.Unlock()

	err = e.send(domain.SignalMessage{
		Type:     "offer",
		SenderID: e.id,
		TargetID: remoteAddress,
		SDP:      &offer,
	})
	if err != nil {
		call.Close()
		return nil, err
	}

	return call, nil
}

func (e *webrtcEndpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	calls := e.calls
	e.calls = make(map[string]*webrtcCall)
	e.mu.Unlock()

	for _, call := range calls {
		call.Close()
	}
	e.conn.Close()
}

func (e *webrtcEndpoint) send(msg domain.SignalMessage) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(msg)
}

func (e *webrtcEndpoint) newPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.stun}},
	})
}

func (e *webrtcEndpoint) readLoop() {
	for {
		var msg domain.SignalMessage
		if err := e.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "offer":
			e.handleOffer(msg)
		case "answer":
			e.handleAnswer(msg)
		case "ice-candidate":
			e.handleCandidate(msg)
		case "bye":
			e.handleBye(msg)
		}
	}
}

func (e *webrtcEndpoint) handleOffer(msg domain.SignalMessage) {
	if msg.SDP == nil || msg.SenderID == "" {
		return
	}

	call := newWebRTCCall(e, msg.SenderID, nil)
	call.remoteOffer = msg.SDP

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if existing, ok := e.calls[msg.SenderID]; ok {
		existing.Close()
	}
	e.calls[msg.SenderID] = call
	fn := e.onIncoming
	e.mu.Unlock()

	if fn != nil {
		fn(call)
	}
}

func (e *webrtcEndpoint) handleAnswer(msg domain.SignalMessage) {
	if msg.SDP == nil {
		return
	}
	if call := e.lookup(msg.SenderID); call != nil {
		if err := call.setRemoteDescription(*msg.SDP); err != nil {
			e.log.Warn("failed to apply answer", sl.Err(err))
		}
	}
}

func (e *webrtcEndpoint) handleCandidate(msg domain.SignalMessage) {
	if msg.Candidate == nil {
		return
	}
	if call := e.lookup(msg.SenderID); call != nil {
		call.addCandidate(*msg.Candidate)
	}
}

func (e *webrtcEndpoint) handleBye(msg domain.SignalMessage) {
	e.mu.Lock()
	call, ok := e.calls[msg.SenderID]
	if ok {
		delete(e.calls, msg.SenderID)
	}
	e.mu.Unlock()
	if ok {
		call.Close()
	}
}

func (e *webrtcEndpoint) lookup(remote string) *webrtcCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[remote]
}

func (e *webrtcEndpoint) drop(remote string) {
	e.mu.Lock()
	delete(e.calls, remote)
	closed := e.closed
	e.mu.Unlock()

	if !closed {
		_ = e.send(domain.SignalMessage{Type: "bye", SenderID: e.id, TargetID: remote})
	}
}

type webrtcCall struct {
	endpoint *webrtcEndpoint
	remote   string

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	remoteOffer *webrtc.SessionDescription
	pendingICE  []webrtc.ICECandidateInit
	onStream    []func(Stream)
	streams     []Stream

	closeOnce sync.Once
}

func newWebRTCCall(endpoint *webrtcEndpoint, remote string, pc *webrtc.PeerConnection) *webrtcCall {
	call := &webrtcCall{endpoint: endpoint, remote: remote, pc: pc}
	if pc != nil {
		call.wire(pc)
	}
	return call
}

func (c *webrtcCall) PeerAddress() string { return c.remote }

func (c *webrtcCall) OnRemoteStream(fn func(Stream)) {
	c.mu.Lock()
	c.onStream = append(c.onStream, fn)
	buffered := append([]Stream(nil), c.streams...)
	c.mu.Unlock()

	for _, s := range buffered {
		fn(s)
	}
}

// Answer accepts an inbound offer, attaching the local stream before the
// answer is generated.
func (c *webrtcCall) Answer(local Stream) error {
	c.mu.Lock()
	offer := c.remoteOffer
	established := c.pc != nil
	c.mu.Unlock()
	if offer == nil {
		if established {
			return nil
		}
		return errors.New("no pending offer")
	}

	pc, err := c.endpoint.newPeerConnection()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	c.wire(pc)

	if err := c.attachLocal(local); err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(*offer); err != nil {
		return err
	}
	c.flushCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return c.endpoint.send(domain.SignalMessage{
		Type:     "answer",
		SenderID: c.endpoint.id,
		TargetID: c.remote,
		SDP:      &answer,
	})
}

func (c *webrtcCall) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc != nil {
			pc.Close()
		}
		c.endpoint.drop(c.remote)
	})
}

func (c *webrtcCall) wire(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		_ = c.endpoint.send(domain.SignalMessage{
			Type:      "ice-candidate",
			SenderID:  c.endpoint.id,
			TargetID:  c.remote,
			Candidate: &init,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		stream := &remoteStream{track: track}

		c.mu.Lock()
		c.streams = append(c.streams, stream)
		targets := append(([]func(Stream))(nil), c.onStream...)
		c.mu.Unlock()

		for _, fn := range targets {
			fn(stream)
		}
	})
}

func (c *webrtcCall) attachLocal(local Stream) error {
	rtp, ok := local.(RTPStream)
	if !ok || rtp == nil {
		return nil
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	_, err := pc.AddTrack(rtp.Track())
	return err
}

func (c *webrtcCall) setRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return errors.New("call not established")
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.flushCandidates()
	return nil
}

func (c *webrtcCall) addCandidate(init webrtc.ICECandidateInit) {
	c.mu.Lock()
	pc := c.pc
	ready := pc != nil && pc.RemoteDescription() != nil
	if !ready {
		c.pendingICE = append(c.pendingICE, init)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		c.endpoint.log.Debug("failed to add ICE candidate", sl.Err(err))
	}
}

func (c *webrtcCall) flushCandidates() {
	c.mu.Lock()
	pc := c.pc
	pending := c.pendingICE
	c.pendingICE = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			c.endpoint.log.Debug("failed to add buffered ICE candidate", sl.Err(err))
		}
	}
}

// SampleStream is an outbound opus track fed by an external encoder. Enable
// gates the writer without renegotiating.
type SampleStream struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
}

func NewSampleStream() (*SampleStream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "microphone",
	)
	if err != nil {
		return nil, err
	}
	return &SampleStream{track: track, enabled: true}, nil
}

func (s *SampleStream) Track() webrtc.TrackLocal { return s.track }

func (s *SampleStream) Sample() *webrtc.TrackLocalStaticSample { return s.track }

func (s *SampleStream) Enable(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *SampleStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *SampleStream) Close() {}

type remoteStream struct {
	track *webrtc.TrackRemote
}

func (r *remoteStream) Enable(bool) {}
func (r *remoteStream) Close()      {}

// Remote exposes the underlying track for an audio sink to consume.
func (r *remoteStream) Remote() *webrtc.TrackRemote { return r.track }
