package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const roomIDLength = 12

// Room is the shared mutable record for one listening session. Every client
// holds a read-only mirror of it derived from store snapshots; the copy in the
// store is the only authoritative one.
type Room struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	HostID       string                  `json:"hostId"`
	Participants map[string]*Participant `json:"participants"`
	CurrentTrack *Track                  `json:"currentTrack"`
	Queue        []*Track                `json:"queue"`
	IsPlaying    bool                    `json:"isPlaying"`
	Position     int                     `json:"position"`
	LastUpdated  time.Time               `json:"lastUpdated"`
}

// NewRoom constructs a room with a generated id, the creator as host and sole
// participant, and an empty queue.
func NewRoom(name string, host *Participant) *Room {
	return &Room{
		ID:     NewRoomID(),
		Name:   name,
		HostID: host.ID,
		Participants: map[string]*Participant{
			host.ID: host,
		},
		Queue:       []*Track{},
		LastUpdated: time.Now().UTC(),
	}
}

func NewRoomID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(id) > roomIDLength {
		id = id[:roomIDLength]
	}
	return "room-" + id
}

// HostValid reports whether hostId points at a present participant.
func (r *Room) HostValid() bool {
	if r == nil || r.HostID == "" {
		return false
	}
	_, ok := r.Participants[r.HostID]
	return ok
}

// NextHost returns the lowest-sorted participant id excluding the departing
// one, or "" if nobody remains. Deterministic so handoff is reproducible.
func (r *Room) NextHost(departing string) string {
	ids := make([]string, 0, len(r.Participants))
	for id := range r.Participants {
		if id == departing {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[0]
}

// Clone deep-copies the room so snapshot consumers cannot mutate shared state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	cp := *r

	cp.Participants = make(map[string]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		if p == nil {
			continue
		}
		pc := *p
		cp.Participants[id] = &pc
	}

	if r.CurrentTrack != nil {
		tc := *r.CurrentTrack
		cp.CurrentTrack = &tc
	}

	cp.Queue = make([]*Track, 0, len(r.Queue))
	for _, t := range r.Queue {
		if t == nil {
			continue
		}
		tc := *t
		cp.Queue = append(cp.Queue, &tc)
	}

	return &cp
}
