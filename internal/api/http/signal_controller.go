package http

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rBhagat4196/music-party/internal/domain"
)

// SignalController is the voice rendezvous: each endpoint registers under its
// ephemeral address and messages are relayed verbatim to their target. It
// carries no room state; the room document decides who dials whom.
type SignalController struct {
	log      *slog.Logger
	stun     []string
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*signalPeer
}

type signalPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *signalPeer) send(msg domain.SignalMessage) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(msg)
}

func NewSignalController(stunServers []string, log *slog.Logger) *SignalController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalController{
		log:  log,
		stun: stunServers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		peers: make(map[string]*signalPeer),
	}
}

// ICEConfig hands clients the STUN servers to dial peers through.
func (c *SignalController) ICEConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"stun_servers": c.stun})
}

func (c *SignalController) Handle(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "failed to upgrade connection")
		return
	}

	var first domain.SignalMessage
	if err := conn.ReadJSON(&first); err != nil || first.Type != "register" || first.SenderID == "" {
		conn.Close()
		return
	}
	id := first.SenderID

	peer := &signalPeer{conn: conn}
	c.mu.Lock()
	if existing, ok := c.peers[id]; ok {
		existing.conn.Close()
	}
	c.peers[id] = peer
	c.mu.Unlock()

	c.log.Info("signal peer registered", "peer_id", id)

	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.TargetID == "" {
			continue
		}
		msg.SenderID = id

		c.mu.RLock()
		target, ok := c.peers[msg.TargetID]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		if err := target.send(msg); err != nil {
			c.log.Debug("signal relay failed",
				slog.String("from", id),
				slog.String("to", msg.TargetID),
			)
		}
	}

	c.mu.Lock()
	if c.peers[id] == peer {
		delete(c.peers, id)
	}
	c.mu.Unlock()
	conn.Close()

	c.log.Info("signal peer disconnected", "peer_id", id)
}
