package domain

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents one member of a room. Identity is opaque: the id is
// minted here for guests but callers may bring their own.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	IsPremium   bool      `json:"isPremium"`
	IsMicOn     bool      `json:"isMicOn"`
	CanEnqueue  bool      `json:"canEnqueue"`
	PeerAddress string    `json:"peerAddress,omitempty"`
	LastActive  time.Time `json:"lastActive,omitempty"`
}

// NewParticipant constructs a guest participant with a generated id.
func NewParticipant(displayName string) *Participant {
	id := "user-" + uuid.New().String()
	if displayName == "" {
		displayName = "User " + id[5:9]
	}
	return &Participant{
		ID:          id,
		DisplayName: displayName,
		AvatarURL:   "https://i.pravatar.cc/150?u=" + id,
		LastActive:  time.Now().UTC(),
	}
}
