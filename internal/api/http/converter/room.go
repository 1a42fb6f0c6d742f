package converter

import (
	"sort"
	"time"

	"github.com/rBhagat4196/music-party/internal/domain"
)

type RoomResponse struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	HostID       string                `json:"host_id"`
	Participants []ParticipantResponse `json:"participants"`
	CurrentTrack *TrackResponse        `json:"current_track"`
	Queue        []TrackResponse       `json:"queue"`
	IsPlaying    bool                  `json:"is_playing"`
	Position     int                   `json:"position"`
	LastUpdated  time.Time             `json:"last_updated"`
}

type ParticipantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsPremium   bool   `json:"is_premium"`
	IsMicOn     bool   `json:"is_mic_on"`
	CanEnqueue  bool   `json:"can_enqueue"`
	IsHost      bool   `json:"is_host"`
}

type TrackResponse struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	CoverURL string    `json:"cover_url,omitempty"`
	Duration int       `json:"duration"`
	MediaURL string    `json:"media_url,omitempty"`
	AddedBy  string    `json:"added_by"`
	AddedAt  time.Time `json:"added_at"`
}

func RoomToApi(r *domain.Room) *RoomResponse {
	participants := make([]ParticipantResponse, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, ParticipantResponse{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			IsPremium:   p.IsPremium,
			IsMicOn:     p.IsMicOn,
			CanEnqueue:  p.CanEnqueue,
			IsHost:      p.ID == r.HostID,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID < participants[j].ID
	})

	queue := make([]TrackResponse, 0, len(r.Queue))
	for _, t := range r.Queue {
		queue = append(queue, trackToApi(t))
	}

	var current *TrackResponse
	if r.CurrentTrack != nil {
		t := trackToApi(r.CurrentTrack)
		current = &t
	}

	return &RoomResponse{
		ID:           r.ID,
		Name:         r.Name,
		HostID:       r.HostID,
		Participants: participants,
		CurrentTrack: current,
		Queue:        queue,
		IsPlaying:    r.IsPlaying,
		Position:     r.Position,
		LastUpdated:  r.LastUpdated,
	}
}

func trackToApi(t *domain.Track) TrackResponse {
	return TrackResponse{
		ID:       t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		CoverURL: t.CoverURL,
		Duration: t.Duration,
		MediaURL: t.MediaURL,
		AddedBy:  t.AddedBy,
		AddedAt:  t.AddedAt,
	}
}
