package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

// VoiceLink is the voice mesh as seen by a session: fed with every room
// snapshot, torn down with the session.
type VoiceLink interface {
	Reconcile(room *domain.Room)
	Close()
}

// Session is one client's live attachment to a room: a read-only mirror kept
// fresh by the snapshot subscription, plus a local ticker that advances a
// display position between snapshots and detects end-of-track.
//
// The ticker never writes to the store. End-of-track triggers the transactional
// Skip, which is safe to race with every other client detecting the same
// boundary.
type Session struct {
	roomID   string
	selfID   string
	sessions SessionInteractor
	playback PlaybackInteractor
	log      *slog.Logger

	tick     time.Duration
	onChange func(*domain.Room)

	mu       sync.RWMutex
	room     *domain.Room
	position int
	voice    VoiceLink

	unsubscribe func()
	stop        chan struct{}
	closeOnce   sync.Once
}

// NewSession wraps an already joined (or created) room. The initial snapshot
// seeds the mirror; Start begins the subscription and ticker.
func NewSession(roomID, selfID string, initial *domain.Room, sessions SessionInteractor, playback PlaybackInteractor, onChange func(*domain.Room), log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		roomID:   roomID,
		selfID:   selfID,
		sessions: sessions,
		playback: playback,
		log:      log,
		tick:     time.Second,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	if initial != nil {
		s.room = initial.Clone()
		s.position = initial.Position
	}
	return s
}

func (s *Session) Start() error {
	unsubscribe, err := s.sessions.Subscribe(s.roomID, s.handleSnapshot)
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe

	go s.run()
	return nil
}

func (s *Session) RoomID() string { return s.roomID }

// SetTickInterval overrides the display tick. Must be called before Start.
func (s *Session) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// Room returns a copy of the mirror, or nil once the room is gone.
func (s *Session) Room() *domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.Clone()
}

// Position is the optimistic display offset, resynchronized on every snapshot.
func (s *Session) Position() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// AttachVoice hands the session a voice mesh to drive from snapshots.
func (s *Session) AttachVoice(v VoiceLink) {
	s.mu.Lock()
	s.voice = v
	room := s.room.Clone()
	s.mu.Unlock()

	if v != nil && room != nil {
		v.Reconcile(room)
	}
}

// Leave tears local resources down first and then issues the departure write;
// teardown is never gated on write success.
func (s *Session) Leave(ctx context.Context) error {
	s.Close()
	return s.sessions.LeaveRoom(ctx, s.roomID, s.selfID)
}

// Close stops the ticker and subscription and tears down voice. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}

		s.mu.Lock()
		voice := s.voice
		s.voice = nil
		s.mu.Unlock()

		if voice != nil {
			voice.Close()
		}
	})
}

func (s *Session) handleSnapshot(room *domain.Room) {
	s.mu.Lock()
	if room == nil {
		s.room = nil
		s.position = 0
	} else {
		s.room = room.Clone()
		s.position = room.Position
	}
	voice := s.voice
	s.mu.Unlock()

	if room == nil {
		s.log.Info("room closed", "room_id", s.roomID)
	} else if voice != nil {
		voice.Reconcile(room)
	}

	if s.onChange != nil {
		s.onChange(room)
	}
}

func (s *Session) run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.advance()
		}
	}
}

func (s *Session) advance() {
	s.mu.Lock()
	room := s.room
	if room == nil || !room.IsPlaying || room.CurrentTrack == nil {
		s.mu.Unlock()
		return
	}

	s.position++
	ended := s.position >= room.CurrentTrack.Duration
	trackID := room.CurrentTrack.ID
	if ended {
		s.position = 0
	}
	s.mu.Unlock()

	if !ended {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.playback.Skip(ctx, s.roomID, trackID); err != nil {
		s.log.Warn("end-of-track skip failed", sl.Err(err))
	}
}
