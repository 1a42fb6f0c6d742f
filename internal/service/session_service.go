package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

// SessionService owns room lifecycle: create, join, leave with host handoff,
// and the snapshot subscription that keeps client mirrors fresh.
type SessionService struct {
	store store.Store
	log   *slog.Logger
}

func NewSessionService(st store.Store, log *slog.Logger) *SessionService {
	if log == nil {
		log = slog.Default()
	}
	return &SessionService{store: st, log: log}
}

func (s *SessionService) CreateRoom(ctx context.Context, name string, participant *domain.Participant) (*domain.Room, error) {
	const op = "service.session.create"
	log := s.log.With(slog.String("op", op))

	if name == "" {
		return nil, errors.New("room name is required")
	}
	if participant == nil || participant.ID == "" {
		return nil, errors.New("participant is required")
	}

	room := domain.NewRoom(name, participant)

	// Single document write: the room either fully exists or not at all.
	if err := s.store.Set(ctx, room.ID, room); err != nil {
		log.Error("failed to create room", sl.Err(err))
		return nil, err
	}

	log.Info("room created",
		"room_id", room.ID,
		"name", room.Name,
		"host_id", room.HostID,
	)
	return room.Clone(), nil
}

func (s *SessionService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	room.Position = domain.ExtrapolatePosition(room, time.Now().UTC())
	return room, nil
}

// JoinRoom merges the participant into the room via a field update so it
// cannot clobber concurrent queue or track changes, and returns an already
// reconciled snapshot so the caller does not wait for the first push.
func (s *SessionService) JoinRoom(ctx context.Context, roomID string, participant *domain.Participant) (*domain.Room, error) {
	const op = "service.session.join"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
	)

	if participant == nil || participant.ID == "" {
		return nil, errors.New("participant is required")
	}

	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		log.Error("failed to read room", sl.Err(err))
		return nil, err
	}

	// Membership only. lastUpdated is the playback anchor and moves exclusively
	// with transport operations.
	err = s.store.UpdateFields(ctx, roomID, map[string]any{
		"participants." + participant.ID: participant,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		log.Error("failed to merge participant", sl.Err(err))
		return nil, err
	}

	room.Participants[participant.ID] = participant
	room.Position = domain.ExtrapolatePosition(room, time.Now().UTC())

	log.Info("participant joined",
		"participant_id", participant.ID,
		"participants_count", len(room.Participants),
	)
	return room, nil
}

// LeaveRoom removes the participant inside one transaction. If the host
// departs and others remain, the lowest-sorted remaining id becomes host; if
// nobody remains the room document is deleted.
func (s *SessionService) LeaveRoom(ctx context.Context, roomID string, participantID string) error {
	const op = "service.session.leave"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("participant_id", participantID),
	)

	err := runWithRetry(ctx, s.store, roomID, func(room *domain.Room) (*store.TxResult, error) {
		if room == nil {
			return nil, nil
		}
		if _, ok := room.Participants[participantID]; !ok {
			return nil, nil
		}

		next := room.Clone()
		delete(next.Participants, participantID)

		if len(next.Participants) == 0 {
			return &store.TxResult{Delete: true}, nil
		}
		if participantID == next.HostID {
			next.HostID = room.NextHost(participantID)
		}

		return &store.TxResult{Room: next}, nil
	})
	if err != nil {
		log.Error("failed to leave room", sl.Err(err))
		return err
	}

	log.Info("participant left")
	return nil
}

// SetMicOn publishes the participant's mic state. Last-write-wins on a field
// only the participant itself writes.
func (s *SessionService) SetMicOn(ctx context.Context, roomID, participantID string, on bool) error {
	err := s.store.UpdateFields(ctx, roomID, map[string]any{
		"participants." + participantID + ".isMicOn": on,
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

// Subscribe registers a push listener. Every remote change arrives reconciled
// against the receiver's clock; a nil room signals the room was closed.
func (s *SessionService) Subscribe(roomID string, onChange func(*domain.Room)) (func(), error) {
	return s.store.Subscribe(roomID, func(room *domain.Room) {
		if room == nil {
			onChange(nil)
			return
		}
		room.Position = domain.ExtrapolatePosition(room, time.Now().UTC())
		onChange(room)
	})
}
