// Package signal is the websocket attachment point: it upgrades the
// connection, binds it to a room as a subscriber, and ties presence
// liveness to the transport's lifetime.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Rooms      *core.Registry
	ReadLimit  int64
	PingPeriod time.Duration
	limiter    *JoinRateLimiter
}

func NewController(rooms *core.Registry, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Rooms:      rooms,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		limiter:    NewJoinRateLimiter(10, time.Minute),
	}
}

// wsConn owns the socket and the bounded outbound queue.
// The room only ever sees it through core.Subscriber.
type wsConn struct {
	conn *websocket.Conn
	send chan any

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(ev core.Event) error { return c.enqueue(ev) }

func (c *wsConn) enqueue(v any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- v:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// attachment is the connection's current room binding. A connection
// holds at most one at a time.
type attachment struct {
	room    *core.Room
	release func()
}

type connState struct {
	conn *wsConn
	user domain.UserID
	name string

	mu     sync.Mutex
	attach *attachment
}

// detach leaves the current room exactly once and lets the registry
// evict the room if this was the last subscriber.
func (s *connState) detach(rooms *core.Registry) {
	s.mu.Lock()
	a := s.attach
	s.attach = nil
	s.mu.Unlock()
	if a == nil {
		return
	}
	a.release()
	a.room.Leave(s.conn)
	rooms.TryRemove(a.room.SessionID())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the pumps. Identity comes
// from the verified client token and profile fields; it is trusted
// as-is, re-validation is not this layer's job.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.GetString("client_token"))
	displayName := c.Query("name")
	if displayName == "" {
		displayName = "guest"
	}
	user, err := domain.NewUser(userID, displayName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("user", string(user.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan any, 32),
	}
	state := &connState{conn: conn, user: user.ID, name: user.DisplayName}

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	go func() {
		defer cancel()
		ctl.readPump(connCtx, state)
	}()
}
