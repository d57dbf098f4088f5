package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case v, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteJSON(v); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the connection. Its exit is the single disconnect
// hook: however the socket dies, the deferred teardown leaves the room
// exactly once, so presence stays deterministic even on abnormal
// termination.
func (ctl *Controller) readPump(ctx context.Context, s *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(s.user)).Msg("readPump closing")
		s.detach(ctl.Rooms)
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("user", string(s.user)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(ctx, s, data)
		}
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, s *connState, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, s, data)
	case "leave":
		ctl.handleLeave(s)
	case "ping":
		_ = s.conn.enqueue(map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown frame")
	}
}

func (ctl *Controller) sendError(s *connState, msg string) {
	_ = s.conn.enqueue(map[string]any{"type": "error", "error": msg})
}
