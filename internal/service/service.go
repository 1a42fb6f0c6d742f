package service

import (
	"context"
	"errors"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
)

var (
	// ErrRoomNotFound is returned when an operation targets a room that does
	// not exist or has already been closed.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPermissionDenied is returned when the caller lacks the right to
	// perform the mutation. No write is attempted.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrOperationFailed is returned when a transaction still conflicts after
	// the automatic retry.
	ErrOperationFailed = errors.New("operation failed")
)

type SessionInteractor interface {
	CreateRoom(ctx context.Context, name string, participant *domain.Participant) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	JoinRoom(ctx context.Context, roomID string, participant *domain.Participant) (*domain.Room, error)
	LeaveRoom(ctx context.Context, roomID string, participantID string) error
	SetMicOn(ctx context.Context, roomID, participantID string, on bool) error
	Subscribe(roomID string, onChange func(*domain.Room)) (func(), error)
}

type PlaybackInteractor interface {
	Enqueue(ctx context.Context, roomID string, participantID string, track *domain.Track) error
	Skip(ctx context.Context, roomID string, fromTrackID string) error
	TogglePlay(ctx context.Context, roomID string) error
	SetEnqueuePermission(ctx context.Context, roomID, callerID, targetID string, allowed bool) error
}

// runWithRetry runs the transaction and retries once with a fresh read if it
// lost a race. A second conflict surfaces as ErrOperationFailed.
func runWithRetry(ctx context.Context, st store.Store, key string, fn store.TxFunc) error {
	err := st.RunTransaction(ctx, key, fn)
	if !errors.Is(err, store.ErrTxConflict) {
		return err
	}

	err = st.RunTransaction(ctx, key, fn)
	if errors.Is(err, store.ErrTxConflict) {
		return ErrOperationFailed
	}
	return err
}
