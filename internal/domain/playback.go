package domain

import "time"

// ExtrapolatePosition derives the live playback offset from a stored snapshot
// plus wall-clock "now". The stored position is an anchor at LastUpdated; it is
// never advanced by the store itself.
//
// A snapshot can be stale across a track boundary; the modulo assumes the track
// looped rather than erroring. The next auto-skip corrects it.
func ExtrapolatePosition(room *Room, now time.Time) int {
	if room == nil || room.CurrentTrack == nil {
		return 0
	}
	if !room.IsPlaying {
		return room.Position
	}
	if room.CurrentTrack.Duration <= 0 {
		return 0
	}

	elapsed := int(now.Sub(room.LastUpdated).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	return (room.Position + elapsed) % room.CurrentTrack.Duration
}

// PlaybackState is the stored playback tuple produced by freezing a local
// play/pause intent. Every writer sets LastUpdated to its own write time so all
// readers reconcile against the same anchor.
type PlaybackState struct {
	Position    int
	IsPlaying   bool
	LastUpdated time.Time
}

// FreezePause captures the extrapolated position and stops the clock.
func FreezePause(room *Room, now time.Time) PlaybackState {
	return PlaybackState{
		Position:    ExtrapolatePosition(room, now),
		IsPlaying:   false,
		LastUpdated: now,
	}
}

// FreezeResume re-anchors the stored position at "now" and starts the clock.
func FreezeResume(room *Room, now time.Time) PlaybackState {
	return PlaybackState{
		Position:    room.Position,
		IsPlaying:   true,
		LastUpdated: now,
	}
}
