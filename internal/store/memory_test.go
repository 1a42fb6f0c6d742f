package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T) *domain.Room {
	t.Helper()
	host := domain.NewParticipant("Host")
	return domain.NewRoom("Jam", host)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	m := store.NewMemory()
	_, err := m.Get(context.Background(), "room-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	room.CurrentTrack = domain.NewTrack("Song", "Artist", "", "http://cdn/song.mp3", 200, room.HostID)

	require.NoError(t, m.Set(context.Background(), room.ID, room))

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, room.HostID, got.HostID)
	require.NotNil(t, got.CurrentTrack)
	assert.Equal(t, 200, got.CurrentTrack.Duration)
	assert.Len(t, got.Participants, 1)
}

func TestUpdateFieldsTargetsNestedEntries(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	guest := domain.NewParticipant("Guest")
	err := m.UpdateFields(context.Background(), room.ID, map[string]any{
		"participants." + guest.ID: guest,
	})
	require.NoError(t, err)

	err = m.UpdateFields(context.Background(), room.ID, map[string]any{
		"participants." + guest.ID + ".isMicOn": true,
	})
	require.NoError(t, err)

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	require.Contains(t, got.Participants, guest.ID)
	assert.True(t, got.Participants[guest.ID].IsMicOn)
	// The untouched host entry survived the field updates.
	assert.Contains(t, got.Participants, room.HostID)
}

func TestUpdateFieldsDeleteField(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	room.Participants[room.HostID].PeerAddress = "addr-1"
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	err := m.UpdateFields(context.Background(), room.ID, map[string]any{
		"participants." + room.HostID + ".peerAddress": store.DeleteField(),
	})
	require.NoError(t, err)

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Participants[room.HostID].PeerAddress)
}

func TestUpdateFieldsArrayUnionAppends(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	first := domain.NewTrack("One", "A", "", "", 100, room.HostID)
	second := domain.NewTrack("Two", "B", "", "", 120, room.HostID)

	for _, track := range []*domain.Track{first, second} {
		err := m.UpdateFields(context.Background(), room.ID, map[string]any{
			"queue": store.ArrayUnion(track),
		})
		require.NoError(t, err)
	}

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, got.Queue, 2)
	assert.Equal(t, first.ID, got.Queue[0].ID)
	assert.Equal(t, second.ID, got.Queue[1].ID)
}

func TestUpdateFieldsMissingDocument(t *testing.T) {
	m := store.NewMemory()
	err := m.UpdateFields(context.Background(), "room-missing", map[string]any{"isPlaying": true})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTransactionReplacesDocument(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	err := m.RunTransaction(context.Background(), room.ID, func(current *domain.Room) (*store.TxResult, error) {
		require.NotNil(t, current)
		next := current.Clone()
		next.IsPlaying = true
		next.Position = 30
		return &store.TxResult{Room: next}, nil
	})
	require.NoError(t, err)

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPlaying)
	assert.Equal(t, 30, got.Position)
}

func TestRunTransactionDelete(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	err := m.RunTransaction(context.Background(), room.ID, func(*domain.Room) (*store.TxResult, error) {
		return &store.TxResult{Delete: true}, nil
	})
	require.NoError(t, err)

	_, err = m.Get(context.Background(), room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTransactionConflictOnInterleavedWrite(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	err := m.RunTransaction(context.Background(), room.ID, func(current *domain.Room) (*store.TxResult, error) {
		// A concurrent writer commits between this transaction's read and
		// its commit.
		require.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{
			"isPlaying": true,
		}))

		next := current.Clone()
		next.Position = 99
		return &store.TxResult{Room: next}, nil
	})
	assert.ErrorIs(t, err, store.ErrTxConflict)

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPlaying)
	assert.Zero(t, got.Position)
}

func TestRunTransactionNoopWritesNothing(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	var snapshots int
	unsubscribe, err := m.Subscribe(room.ID, func(*domain.Room) { snapshots++ })
	require.NoError(t, err)
	defer unsubscribe()

	err = m.RunTransaction(context.Background(), room.ID, func(*domain.Room) (*store.TxResult, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, snapshots)
}

func TestSubscribeDeliversCommitsAndDeletion(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	var mu sync.Mutex
	var received []*domain.Room
	unsubscribe, err := m.Subscribe(room.ID, func(snapshot *domain.Room) {
		mu.Lock()
		received = append(received, snapshot)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{
		"isPlaying": true,
		"lastUpdated": time.Now().UTC(),
	}))
	require.NoError(t, m.Delete(context.Background(), room.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	require.NotNil(t, received[0])
	assert.True(t, received[0].IsPlaying)
	assert.Nil(t, received[1])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	var count int
	unsubscribe, err := m.Subscribe(room.ID, func(*domain.Room) { count++ })
	require.NoError(t, err)
	unsubscribe()

	require.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{"isPlaying": true}))
	assert.Zero(t, count)
}

func TestLatestCommitIsDeliveredLast(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var queueLens []int
	unsubscribe, err := m.Subscribe(room.ID, func(snapshot *domain.Room) {
		// Stall the first delivery until a second write has committed.
		once.Do(func() {
			close(entered)
			<-release
		})
		mu.Lock()
		queueLens = append(queueLens, len(snapshot.Queue))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{
			"queue": store.ArrayUnion(domain.NewTrack("One", "A", "", "", 100, room.HostID)),
		}))
	}()
	<-entered
	go func() {
		defer wg.Done()
		assert.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{
			"queue": store.ArrayUnion(domain.NewTrack("Two", "B", "", "", 120, room.HostID)),
		}))
	}()
	// Let the second write reach its commit while the first delivery is held.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, stored.Queue, 2)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, queueLens)
	// Whatever interleaving happened, the final delivered snapshot matches
	// the stored state.
	assert.Equal(t, 2, queueLens[len(queueLens)-1])
}

func TestUpdateFieldsThroughMissingEntryCreatesSparseEntry(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	// A mic write addressed at a participant who already left recreates the
	// entry holding only the written field.
	err := m.UpdateFields(context.Background(), room.ID, map[string]any{
		"participants.user-gone.isMicOn": true,
	})
	require.NoError(t, err)

	got, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	require.Contains(t, got.Participants, "user-gone")
	assert.True(t, got.Participants["user-gone"].IsMicOn)
	assert.Empty(t, got.Participants["user-gone"].DisplayName)
}

func TestSubscriberSnapshotsAreIsolated(t *testing.T) {
	m := store.NewMemory()
	room := newRoom(t)
	require.NoError(t, m.Set(context.Background(), room.ID, room))

	var got *domain.Room
	unsubscribe, err := m.Subscribe(room.ID, func(snapshot *domain.Room) { got = snapshot })
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, m.UpdateFields(context.Background(), room.ID, map[string]any{"name": "Renamed"}))
	require.NotNil(t, got)

	// Mutating the delivered snapshot must not leak into the store.
	got.Name = "mutated"
	stored, err := m.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
}
