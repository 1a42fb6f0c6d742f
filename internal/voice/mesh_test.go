package voice_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/rBhagat4196/music-party/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (s *fakeStream) Enable(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) state() (enabled, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.closed
}

type fakeCall struct {
	mu        sync.Mutex
	addr      string
	answered  voice.Stream
	didAnswer bool
	closed    bool
}

func (c *fakeCall) PeerAddress() string { return c.addr }

func (c *fakeCall) Answer(local voice.Stream) error {
	c.mu.Lock()
	c.answered = local
	c.didAnswer = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCall) OnRemoteStream(func(voice.Stream)) {}

func (c *fakeCall) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type fakeEndpoint struct {
	mu       sync.Mutex
	addr     string
	incoming func(voice.Call)
	dialed   []string
	calls    []*fakeCall
	closed   bool
}

func (e *fakeEndpoint) Address() string { return e.addr }

func (e *fakeEndpoint) OnIncomingCall(fn func(voice.Call)) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

func (e *fakeEndpoint) Dial(remote string, _ voice.Stream) (voice.Call, error) {
	call := &fakeCall{addr: remote}
	e.mu.Lock()
	e.dialed = append(e.dialed, remote)
	e.calls = append(e.calls, call)
	e.mu.Unlock()
	return call, nil
}

func (e *fakeEndpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *fakeEndpoint) dialLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.dialed))
	copy(out, e.dialed)
	sort.Strings(out)
	return out
}

func (e *fakeEndpoint) ring(call voice.Call) {
	e.mu.Lock()
	fn := e.incoming
	e.mu.Unlock()
	fn(call)
}

type fakeNetwork struct {
	endpoint *fakeEndpoint
	err      error
}

func (n *fakeNetwork) CreateEndpoint(context.Context) (voice.Endpoint, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.endpoint, nil
}

type fakeCapture struct {
	stream *fakeStream
	err    error
}

func (c *fakeCapture) RequestMicrophone(context.Context) (voice.Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func seedRoom(t *testing.T, m *store.Memory, extras ...*domain.Participant) (*domain.Room, *domain.Participant) {
	t.Helper()

	self := &domain.Participant{ID: "user-self", DisplayName: "Self", LastActive: time.Now().UTC()}
	room := domain.NewRoom("Voices", self)
	for _, p := range extras {
		room.Participants[p.ID] = p
	}
	require.NoError(t, m.Set(context.Background(), room.ID, room))
	return room, self
}

func openedMesh(t *testing.T, m *store.Memory, room *domain.Room, self *domain.Participant, capture voice.Capture) (*voice.Mesh, *fakeEndpoint) {
	t.Helper()

	endpoint := &fakeEndpoint{addr: "addr-self"}
	mesh := voice.NewMesh(room.ID, self.ID, m, &fakeNetwork{endpoint: endpoint}, capture, testLogger())
	require.NoError(t, mesh.Open(context.Background()))
	return mesh, endpoint
}

func TestOpenPublishesAddressAndMicState(t *testing.T) {
	m := store.NewMemory()
	room, self := seedRoom(t, m)

	mic := &fakeStream{}
	mesh, _ := openedMesh(t, m, room, self, &fakeCapture{stream: mic})

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "addr-self", stored.Participants[self.ID].PeerAddress)
	assert.True(t, stored.Participants[self.ID].IsMicOn)
	assert.True(t, mesh.MicOn())
}

func TestOpenWithoutMicrophoneJoinsMuted(t *testing.T) {
	m := store.NewMemory()
	room, self := seedRoom(t, m)

	mesh, _ := openedMesh(t, m, room, self, &fakeCapture{err: voice.ErrMicUnavailable})

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "addr-self", stored.Participants[self.ID].PeerAddress)
	assert.False(t, stored.Participants[self.ID].IsMicOn)
	assert.False(t, mesh.MicOn())

	// No stream to unmute with.
	assert.ErrorIs(t, mesh.SetMicOn(context.Background(), true), voice.ErrMicUnavailable)
}

func TestReconcileDialsOnlyPublishedSpeakers(t *testing.T) {
	m := store.NewMemory()
	speaking := &domain.Participant{ID: "user-a", PeerAddress: "addr-a", IsMicOn: true}
	muted := &domain.Participant{ID: "user-b", PeerAddress: "addr-b", IsMicOn: false}
	unpublished := &domain.Participant{ID: "user-c", IsMicOn: true}
	room, self := seedRoom(t, m, speaking, muted, unpublished)

	mesh, endpoint := openedMesh(t, m, room, self, &fakeCapture{stream: &fakeStream{}})

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	mesh.Reconcile(stored)

	assert.Equal(t, []string{"addr-a"}, endpoint.dialLog())
	assert.Equal(t, []string{"addr-a"}, mesh.Calls())

	// A second pass over the same snapshot must not dial twice.
	mesh.Reconcile(stored)
	assert.Equal(t, []string{"addr-a"}, endpoint.dialLog())
}

func TestReconcilePrunesDepartedPeers(t *testing.T) {
	m := store.NewMemory()
	peer := &domain.Participant{ID: "user-a", PeerAddress: "addr-a", IsMicOn: true}
	room, self := seedRoom(t, m, peer)

	mesh, endpoint := openedMesh(t, m, room, self, &fakeCapture{stream: &fakeStream{}})

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	mesh.Reconcile(stored)
	require.Equal(t, []string{"addr-a"}, mesh.Calls())

	delete(stored.Participants, "user-a")
	mesh.Reconcile(stored)

	assert.Empty(t, mesh.Calls())
	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()
	require.Len(t, endpoint.calls, 1)
	assert.True(t, endpoint.calls[0].closed)
}

func TestInboundCallAnsweredWithLocalStream(t *testing.T) {
	m := store.NewMemory()
	room, self := seedRoom(t, m)

	mic := &fakeStream{}
	mesh, endpoint := openedMesh(t, m, room, self, &fakeCapture{stream: mic})

	inbound := &fakeCall{addr: "addr-caller"}
	endpoint.ring(inbound)

	inbound.mu.Lock()
	assert.True(t, inbound.didAnswer)
	assert.Equal(t, voice.Stream(mic), inbound.answered)
	inbound.mu.Unlock()
	assert.Equal(t, []string{"addr-caller"}, mesh.Calls())
}

func TestSetMicOnTogglesStreamAndRepublishes(t *testing.T) {
	m := store.NewMemory()
	room, self := seedRoom(t, m)

	mic := &fakeStream{}
	mesh, _ := openedMesh(t, m, room, self, &fakeCapture{stream: mic})

	require.NoError(t, mesh.SetMicOn(context.Background(), false))
	enabled, _ := mic.state()
	assert.False(t, enabled)
	assert.False(t, mesh.MicOn())

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, stored.Participants[self.ID].IsMicOn)

	require.NoError(t, mesh.SetMicOn(context.Background(), true))
	enabled, _ = mic.state()
	assert.True(t, enabled)

	stored, err = m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.True(t, stored.Participants[self.ID].IsMicOn)
}

func TestCloseTearsDownAndClearsPublishedFields(t *testing.T) {
	m := store.NewMemory()
	peer := &domain.Participant{ID: "user-a", PeerAddress: "addr-a", IsMicOn: true}
	room, self := seedRoom(t, m, peer)

	mic := &fakeStream{}
	mesh, endpoint := openedMesh(t, m, room, self, &fakeCapture{stream: mic})

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	mesh.Reconcile(stored)
	require.Equal(t, []string{"addr-a"}, mesh.Calls())

	mesh.Close()
	mesh.Close() // idempotent

	_, micClosed := mic.state()
	assert.True(t, micClosed)
	endpoint.mu.Lock()
	assert.True(t, endpoint.closed)
	require.Len(t, endpoint.calls, 1)
	assert.True(t, endpoint.calls[0].closed)
	endpoint.mu.Unlock()

	stored, err = m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Participants[self.ID].PeerAddress)
	assert.False(t, stored.Participants[self.ID].IsMicOn)

	// Post-close snapshots and toggles are ignored.
	mesh.Reconcile(stored)
	assert.Empty(t, mesh.Calls())
	assert.NoError(t, mesh.SetMicOn(context.Background(), true))
}

func TestOpenFailsWhenNetworkDoes(t *testing.T) {
	m := store.NewMemory()
	room, self := seedRoom(t, m)

	mesh := voice.NewMesh(room.ID, self.ID, m, &fakeNetwork{err: errors.New("relay unreachable")}, nil, testLogger())
	assert.Error(t, mesh.Open(context.Background()))
}
