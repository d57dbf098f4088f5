package signal

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
	"github.com/quorumlab/quorum/internal/store"
)

// joinErrorCode maps a hydration failure to the wire error code. Only
// a missing session is the caller's fault; anything else (storage
// down, decode failure) is a server-side condition.
func joinErrorCode(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "session_not_found"
	}
	return "room_unavailable"
}

// handleJoin binds the connection to a session room. Subscribing
// happens before Join so the connection sees its own presence event.
// The client is expected to fetch the session snapshot over the read
// API; the stream only carries deltas from this point on.
func (ctl *Controller) handleJoin(ctx context.Context, s *connState, data []byte) {
	type joinPayload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		log.Error().Str("module", "signal").Msg("bad join payload")
		ctl.sendError(s, "bad_payload")
		return
	}
	if !ctl.limiter.Allow(s.user) {
		ctl.sendError(s, "rate_limited")
		return
	}

	// Rejoining moves the connection: leave the old room first.
	s.detach(ctl.Rooms)

	room, err := ctl.Rooms.GetOrCreate(ctx, domain.SessionID(p.SessionID))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("session", p.SessionID).Msg("room lookup")
		ctl.sendError(s, joinErrorCode(err))
		return
	}

	release := room.Subscribe(s.conn)
	presence := room.Join(s.user, s.name, s.conn)

	s.mu.Lock()
	s.attach = &attachment{room: room, release: release}
	s.mu.Unlock()

	log.Info().Str("module", "signal").Str("user", string(s.user)).Str("session", p.SessionID).Msg("join")
	_ = s.conn.enqueue(struct {
		Type      string               `json:"type"`
		SessionID domain.SessionID     `json:"sessionId"`
		Presence  []core.PresenceEntry `json:"presence"`
	}{
		Type:      "room_state",
		SessionID: room.SessionID(),
		Presence:  presence,
	})
}

// handleLeave detaches from the current room without dropping the
// socket; the client can join another session on the same connection.
func (ctl *Controller) handleLeave(s *connState) {
	log.Info().Str("module", "signal").Str("user", string(s.user)).Msg("leave")
	s.detach(ctl.Rooms)
	_ = s.conn.enqueue(map[string]any{"type": "left"})
}
