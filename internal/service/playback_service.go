package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/store"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

// PlaybackService mutates the shared queue and transport fields. Everything
// that reads the current value before deciding the write runs inside a store
// transaction; plain field updates are reserved for last-write-wins fields.
type PlaybackService struct {
	store store.Store
	log   *slog.Logger
}

func NewPlaybackService(st store.Store, log *slog.Logger) *PlaybackService {
	if log == nil {
		log = slog.Default()
	}
	return &PlaybackService{store: st, log: log}
}

// Enqueue appends a freshly minted copy of the track. The permission check
// runs against the transaction's read, not the caller's mirror, and enqueueing
// into a trackless room promotes the track in the same commit so two racing
// first-adds cannot both believe the room is empty.
func (s *PlaybackService) Enqueue(ctx context.Context, roomID string, participantID string, track *domain.Track) error {
	const op = "service.playback.enqueue"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("participant_id", participantID),
	)

	if track == nil {
		return errors.New("track is required")
	}
	if track.Duration <= 0 {
		return errors.New("track duration is required")
	}

	err := runWithRetry(ctx, s.store, roomID, func(room *domain.Room) (*store.TxResult, error) {
		if room == nil {
			return nil, ErrRoomNotFound
		}

		caller, ok := room.Participants[participantID]
		if !ok {
			return nil, ErrPermissionDenied
		}
		if participantID != room.HostID && !caller.CanEnqueue {
			return nil, ErrPermissionDenied
		}

		now := time.Now().UTC()
		minted := *track
		minted.ID = "track-" + uuid.New().String()
		minted.AddedBy = participantID
		minted.AddedAt = now

		next := room.Clone()

		if next.CurrentTrack == nil {
			// Promotion starts the transport, so it re-anchors the clock.
			next.CurrentTrack = &minted
			next.IsPlaying = true
			next.Position = 0
			next.LastUpdated = now
		} else {
			// A plain append leaves position and lastUpdated alone; moving the
			// anchor here would rewind every mirror mid-track.
			next.Queue = append(next.Queue, &minted)
		}

		return &store.TxResult{Room: next}, nil
	})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRoomNotFound) {
			return err
		}
		log.Error("failed to enqueue", sl.Err(err))
		return err
	}

	log.Info("track enqueued", "title", track.Title)
	return nil
}

// Skip advances to queue[0]. fromTrackID is the track the caller believes is
// playing; if another client already advanced past it the call observes the
// updated currentTrack and no-ops. That makes end-of-track detection safe to
// run on every client at once.
func (s *PlaybackService) Skip(ctx context.Context, roomID string, fromTrackID string) error {
	const op = "service.playback.skip"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
	)

	err := runWithRetry(ctx, s.store, roomID, func(room *domain.Room) (*store.TxResult, error) {
		if room == nil {
			return nil, nil
		}
		if fromTrackID != "" {
			if room.CurrentTrack == nil || room.CurrentTrack.ID != fromTrackID {
				return nil, nil
			}
		}
		if room.CurrentTrack == nil && len(room.Queue) == 0 {
			return nil, nil
		}

		next := room.Clone()
		next.LastUpdated = time.Now().UTC()
		next.Position = 0

		if len(next.Queue) == 0 {
			next.CurrentTrack = nil
			next.IsPlaying = false
		} else {
			next.CurrentTrack = next.Queue[0]
			next.Queue = next.Queue[1:]
			next.IsPlaying = true
		}

		return &store.TxResult{Room: next}, nil
	})
	if err != nil {
		log.Error("failed to skip", sl.Err(err))
		return err
	}

	log.Info("skip applied")
	return nil
}

// TogglePlay pauses or resumes playback for everyone. Any participant may
// call it. The write re-anchors position and lastUpdated so all readers
// reconcile against the same instant.
func (s *PlaybackService) TogglePlay(ctx context.Context, roomID string) error {
	const op = "service.playback.toggle"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
	)

	err := runWithRetry(ctx, s.store, roomID, func(room *domain.Room) (*store.TxResult, error) {
		if room == nil {
			return nil, ErrRoomNotFound
		}
		if room.CurrentTrack == nil {
			return nil, nil
		}

		now := time.Now().UTC()
		var state domain.PlaybackState
		if room.IsPlaying {
			state = domain.FreezePause(room, now)
		} else {
			state = domain.FreezeResume(room, now)
		}

		next := room.Clone()
		next.Position = state.Position
		next.IsPlaying = state.IsPlaying
		next.LastUpdated = state.LastUpdated

		return &store.TxResult{Room: next}, nil
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return err
		}
		log.Error("failed to toggle playback", sl.Err(err))
		return err
	}

	log.Info("playback toggled")
	return nil
}

// SetEnqueuePermission grants or revokes queue-add rights. The caller must be
// host on the freshly read document; a stale-host client cannot grant rights
// after handoff.
func (s *PlaybackService) SetEnqueuePermission(ctx context.Context, roomID, callerID, targetID string, allowed bool) error {
	const op = "service.playback.permission"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("target_id", targetID),
	)

	err := runWithRetry(ctx, s.store, roomID, func(room *domain.Room) (*store.TxResult, error) {
		if room == nil {
			return nil, ErrRoomNotFound
		}
		if callerID != room.HostID {
			return nil, ErrPermissionDenied
		}
		target, ok := room.Participants[targetID]
		if !ok {
			return nil, nil
		}
		if target.CanEnqueue == allowed {
			return nil, nil
		}

		next := room.Clone()
		next.Participants[targetID].CanEnqueue = allowed

		return &store.TxResult{Room: next}, nil
	})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRoomNotFound) {
			return err
		}
		log.Error("failed to update permission", sl.Err(err))
		return err
	}

	log.Info("enqueue permission updated", "allowed", allowed)
	return nil
}
