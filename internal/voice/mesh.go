package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

// Mesh maintains the all-to-all voice topology for one participant. The room
// document doubles as the rendezvous service: Open publishes this client's
// peer address and mic state as field updates, Reconcile dials whichever
// published peers it is not connected to yet, and inbound calls are always
// accepted.
type Mesh struct {
	roomID  string
	selfID  string
	store   store.Store
	network Network
	capture Capture
	log     *slog.Logger

	mu       sync.Mutex
	endpoint Endpoint
	local    Stream
	calls    map[string]Call
	micOn    bool
	closed   bool
}

func NewMesh(roomID, selfID string, st store.Store, network Network, capture Capture, log *slog.Logger) *Mesh {
	if log == nil {
		log = slog.Default()
	}
	if capture == nil {
		capture = NullCapture{}
	}
	return &Mesh{
		roomID:  roomID,
		selfID:  selfID,
		store:   st,
		network: network,
		capture: capture,
		log:     log,
		calls:   make(map[string]Call),
	}
}

// Open creates the endpoint, requests the microphone, and publishes this
// client's peer address into the room document. A missing microphone is not
// fatal: the mesh joins muted.
func (m *Mesh) Open(ctx context.Context) error {
	endpoint, err := m.network.CreateEndpoint(ctx)
	if err != nil {
		return err
	}

	local, err := m.capture.RequestMicrophone(ctx)
	if err != nil {
		m.log.Warn("joining voice muted", sl.Err(err))
		local = nil
	}

	m.mu.Lock()
	m.endpoint = endpoint
	m.local = local
	m.micOn = local != nil
	micOn := m.micOn
	m.mu.Unlock()

	endpoint.OnIncomingCall(m.accept)

	err = m.store.UpdateFields(ctx, m.roomID, map[string]any{
		"participants." + m.selfID + ".peerAddress": endpoint.Address(),
		"participants." + m.selfID + ".isMicOn":     micOn,
	})
	if err != nil {
		m.log.Error("failed to publish peer address", sl.Err(err))
		return err
	}

	m.log.Info("voice endpoint published",
		"room_id", m.roomID,
		"address", endpoint.Address(),
		"mic_on", micOn,
	)
	return nil
}

// Reconcile brings the call set in line with a room snapshot: dial every other
// participant whose address is published and mic is on, drop calls to peers
// that are gone.
func (m *Mesh) Reconcile(room *domain.Room) {
	if room == nil {
		return
	}

	m.mu.Lock()
	if m.closed || m.endpoint == nil {
		m.mu.Unlock()
		return
	}
	endpoint := m.endpoint
	local := m.local
	self := endpoint.Address()

	wanted := make(map[string]bool)
	var toDial []string
	for id, p := range room.Participants {
		if id == m.selfID || p.PeerAddress == "" || p.PeerAddress == self {
			continue
		}
		wanted[p.PeerAddress] = true
		if !p.IsMicOn {
			continue
		}
		if _, connected := m.calls[p.PeerAddress]; !connected {
			toDial = append(toDial, p.PeerAddress)
		}
	}

	var toClose []Call
	for addr, call := range m.calls {
		if !wanted[addr] {
			toClose = append(toClose, call)
			delete(m.calls, addr)
		}
	}
	m.mu.Unlock()

	for _, call := range toClose {
		call.Close()
	}

	for _, addr := range toDial {
		call, err := endpoint.Dial(addr, local)
		if err != nil {
			m.log.Warn("failed to dial peer", slog.String("address", addr), sl.Err(err))
			continue
		}
		m.track(call)
	}
}

// SetMicOn republishes mic state and toggles the outbound track in place.
func (m *Mesh) SetMicOn(ctx context.Context, on bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.local == nil && on {
		m.mu.Unlock()
		return ErrMicUnavailable
	}
	m.micOn = on
	local := m.local
	m.mu.Unlock()

	if local != nil {
		local.Enable(on)
	}

	return m.store.UpdateFields(ctx, m.roomID, map[string]any{
		"participants." + m.selfID + ".isMicOn": on,
	})
}

func (m *Mesh) MicOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micOn
}

// Close tears down every call, the capture stream, and the endpoint, then
// clears this client's published fields. The field clear is best-effort: local
// teardown never waits on the store.
func (m *Mesh) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	calls := m.calls
	m.calls = make(map[string]Call)
	local := m.local
	m.local = nil
	endpoint := m.endpoint
	m.endpoint = nil
	m.mu.Unlock()

	for _, call := range calls {
		call.Close()
	}
	if local != nil {
		local.Close()
	}
	if endpoint != nil {
		endpoint.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := m.store.UpdateFields(ctx, m.roomID, map[string]any{
		"participants." + m.selfID + ".peerAddress": store.DeleteField(),
		"participants." + m.selfID + ".isMicOn":     false,
	})
	if err != nil {
		m.log.Debug("voice field cleanup failed", sl.Err(err))
	}
}

func (m *Mesh) accept(call Call) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		call.Close()
		return
	}
	local := m.local
	m.mu.Unlock()

	if err := call.Answer(local); err != nil {
		m.log.Warn("failed to answer call", slog.String("address", call.PeerAddress()), sl.Err(err))
		call.Close()
		return
	}

	m.track(call)
	m.log.Info("accepted inbound call", "address", call.PeerAddress())
}

func (m *Mesh) track(call Call) {
	call.OnRemoteStream(func(Stream) {
		m.log.Debug("remote stream attached", "address", call.PeerAddress())
	})

	m.mu.Lock()
	if existing, ok := m.calls[call.PeerAddress()]; ok && existing != call {
		existing.Close()
	}
	m.calls[call.PeerAddress()] = call
	m.mu.Unlock()
}

// Calls reports the addresses of active mesh edges.
func (m *Mesh) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.calls))
	for addr := range m.calls {
		addrs = append(addrs, addr)
	}
	return addrs
}
