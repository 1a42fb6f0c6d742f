package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rBhagat4196/music-party/internal/api/http/converter"
	"github.com/rBhagat4196/music-party/internal/domain"
	"github.com/rBhagat4196/music-party/internal/service"
	"github.com/rBhagat4196/music-party/lib/logger/sl"
)

type RoomController struct {
	sessions service.SessionInteractor
	playback service.PlaybackInteractor
	tick     time.Duration
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewRoomController(sessions service.SessionInteractor, playback service.PlaybackInteractor, tick time.Duration, log *slog.Logger) *RoomController {
	if log == nil {
		log = slog.Default()
	}
	return &RoomController{
		sessions: sessions,
		playback: playback,
		tick:     tick,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *RoomController) CreateRoom(ctx *gin.Context) {
	type CreateRoomRequest struct {
		Name        string `json:"name" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
		IsPremium   bool   `json:"is_premium"`
	}
	var req CreateRoomRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	host := domain.NewParticipant(req.DisplayName)
	host.IsPremium = req.IsPremium
	host.CanEnqueue = true

	room, err := c.sessions.CreateRoom(ctx.Request.Context(), req.Name, host)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"room":           converter.RoomToApi(room),
		"participant_id": host.ID,
	})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	room, err := c.sessions.GetRoom(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) ListParticipants(ctx *gin.Context) {
	room, err := c.sessions.GetRoom(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"participants": converter.RoomToApi(room).Participants})
}

// feedEvent is one message pushed down the room feed socket.
type feedEvent struct {
	Type          string                  `json:"type"` // "joined", "snapshot", "room_closed", "error"
	ParticipantID string                  `json:"participant_id,omitempty"`
	Room          *converter.RoomResponse `json:"room,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// feedCommand is one mutation request read from the room feed socket.
type feedCommand struct {
	Action      string        `json:"action"` // "enqueue", "skip", "toggle_play", "toggle_mic", "set_permission", "leave"
	Track       *trackRequest `json:"track,omitempty"`
	FromTrackID string        `json:"from_track_id,omitempty"`
	MicOn       bool          `json:"mic_on"`
	TargetID    string        `json:"target_id,omitempty"`
	Allowed     bool          `json:"allowed"`
}

type trackRequest struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"cover_url"`
	MediaURL string `json:"media_url"`
	Duration int    `json:"duration"`
}

// RoomFeed joins the caller into the room over a websocket: every committed
// change streams down as a reconciled snapshot, and mutation commands come
// back up the same socket. Each connection runs its own Session, so the
// server drives end-of-track advancement on the client's behalf. Closing the
// socket leaves the room.
func (c *RoomController) RoomFeed(ctx *gin.Context) {
	roomID := ctx.Param("roomID")

	displayName := ctx.Query("name")
	if displayName == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	participant := domain.NewParticipant(displayName)

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "failed to upgrade connection")
		return
	}

	room, err := c.sessions.JoinRoom(context.Background(), roomID, participant)
	if err != nil {
		conn.WriteJSON(feedEvent{Type: "error", Error: err.Error()})
		conn.Close()
		return
	}

	events := make(chan feedEvent, 16)
	done := make(chan struct{})
	events <- feedEvent{
		Type:          "joined",
		ParticipantID: participant.ID,
		Room:          converter.RoomToApi(room),
	}

	sess := service.NewSession(roomID, participant.ID, room, c.sessions, c.playback, func(snapshot *domain.Room) {
		ev := feedEvent{Type: "room_closed"}
		if snapshot != nil {
			ev = feedEvent{Type: "snapshot", Room: converter.RoomToApi(snapshot)}
		}
		select {
		case events <- ev:
		default:
			c.log.Debug("dropping feed event", slog.String("participant", participant.ID))
		}
	}, c.log)
	sess.SetTickInterval(c.tick)

	if err := sess.Start(); err != nil {
		conn.WriteJSON(feedEvent{Type: "error", Error: err.Error()})
		conn.Close()
		if err := c.sessions.LeaveRoom(context.Background(), roomID, participant.ID); err != nil {
			c.log.Warn("leave failed after subscribe error", sl.Err(err))
		}
		return
	}

	go forwardFeedEvents(conn, events, done)

	for {
		var cmd feedCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		if cmd.Action == "leave" {
			break
		}

		if err := c.applyCommand(roomID, participant.ID, cmd); err != nil {
			select {
			case events <- feedEvent{Type: "error", Error: err.Error()}:
			default:
			}
		}
	}

	// Local teardown first; the departure write is not allowed to gate it.
	close(done)
	conn.Close()

	if err := sess.Leave(context.Background()); err != nil {
		c.log.Warn("leave failed after disconnect", sl.Err(err))
	}
}

func (c *RoomController) applyCommand(roomID, participantID string, cmd feedCommand) error {
	ctx := context.Background()

	switch cmd.Action {
	case "enqueue":
		if cmd.Track == nil {
			return errors.New("track is required")
		}
		track := domain.NewTrack(cmd.Track.Title, cmd.Track.Artist, cmd.Track.CoverURL, cmd.Track.MediaURL, cmd.Track.Duration, participantID)
		return c.playback.Enqueue(ctx, roomID, participantID, track)
	case "skip":
		return c.playback.Skip(ctx, roomID, cmd.FromTrackID)
	case "toggle_play":
		return c.playback.TogglePlay(ctx, roomID)
	case "toggle_mic":
		return c.sessions.SetMicOn(ctx, roomID, participantID, cmd.MicOn)
	case "set_permission":
		return c.playback.SetEnqueuePermission(ctx, roomID, participantID, cmd.TargetID, cmd.Allowed)
	default:
		return errors.New("unsupported action: " + cmd.Action)
	}
}

func forwardFeedEvents(conn *websocket.Conn, events <-chan feedEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Type == "room_closed" {
				conn.Close()
				return
			}
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrOperationFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
