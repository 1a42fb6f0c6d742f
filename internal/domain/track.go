package domain

import (
	"time"

	"github.com/google/uuid"
)

// Track is immutable once minted. The id is always fresh so the same catalog
// song can sit in the queue twice without colliding.
type Track struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	CoverURL string    `json:"coverUrl,omitempty"`
	Duration int       `json:"duration"`
	MediaURL string    `json:"mediaUrl,omitempty"`
	AddedBy  string    `json:"addedBy"`
	AddedAt  time.Time `json:"addedAt"`
}

// NewTrack mints a queue entry from catalog metadata.
func NewTrack(title, artist, coverURL, mediaURL string, duration int, addedBy string) *Track {
	return &Track{
		ID:       "track-" + uuid.New().String(),
		Title:    title,
		Artist:   artist,
		CoverURL: coverURL,
		Duration: duration,
		MediaURL: mediaURL,
		AddedBy:  addedBy,
		AddedAt:  time.Now().UTC(),
	}
}
