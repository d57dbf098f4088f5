package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/domain"
)

// Hydrator is the single storage read the registry needs: one
// consistent snapshot per room construction.
type Hydrator interface {
	GetSessionSnapshot(ctx context.Context, sessionID domain.SessionID) (domain.Snapshot, error)
}

type roomEntry struct {
	once sync.Once
	room *Room
	err  error
}

// Registry is the process-wide map from session id to room. Rooms are
// created lazily on first use and hydrated exactly once, outside the
// registry lock so one slow hydration never blocks other sessions.
type Registry struct {
	store  Hydrator
	policy Policy

	mu    sync.Mutex
	rooms map[domain.SessionID]*roomEntry
}

func NewRegistry(store Hydrator, policy Policy) *Registry {
	return &Registry{
		store:  store,
		policy: policy,
		rooms:  make(map[domain.SessionID]*roomEntry),
	}
}

// GetOrCreate returns the existing room or constructs it. Concurrent
// calls for the same session share one entry and one hydration; a
// failed hydration is forgotten so a later call can retry.
func (g *Registry) GetOrCreate(ctx context.Context, sessionID domain.SessionID) (*Room, error) {
	g.mu.Lock()
	e, ok := g.rooms[sessionID]
	if !ok {
		e = &roomEntry{}
		g.rooms[sessionID] = e
	}
	g.mu.Unlock()

	e.once.Do(func() {
		snap, err := g.store.GetSessionSnapshot(ctx, sessionID)
		if err != nil {
			e.err = err
			return
		}
		e.room = NewRoom(snap, g.policy)
		log.Info().Str("module", "core.registry").Str("session", string(sessionID)).Msg("room hydrated")
	})

	if e.err != nil {
		g.mu.Lock()
		if g.rooms[sessionID] == e {
			delete(g.rooms, sessionID)
		}
		g.mu.Unlock()
		return nil, e.err
	}
	return e.room, nil
}

// Peek returns the room only if it is already live. Write paths use
// this so a write to a session nobody is watching does not spin up a
// room that nothing would ever tear down.
func (g *Registry) Peek(sessionID domain.SessionID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[sessionID]
	if !ok || e.room == nil {
		return nil, false
	}
	return e.room, true
}

// TryRemove drops the room only if its subscriber count is zero at the
// instant of removal; otherwise it is a no-op. Reports whether the
// room was removed.
func (g *Registry) TryRemove(sessionID domain.SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[sessionID]
	if !ok || e.room == nil {
		return false
	}
	if e.room.SubscriberCount() != 0 {
		return false
	}
	delete(g.rooms, sessionID)
	log.Info().Str("module", "core.registry").Str("session", string(sessionID)).Msg("room evicted")
	return true
}

type RoomInfo struct {
	SessionID   domain.SessionID `json:"sessionId"`
	Subscribers int              `json:"subscribers"`
	Online      int              `json:"online"`
}

func (g *Registry) List() []RoomInfo {
	g.mu.Lock()
	entries := make([]*roomEntry, 0, len(g.rooms))
	for _, e := range g.rooms {
		entries = append(entries, e)
	}
	g.mu.Unlock()

	out := make([]RoomInfo, 0, len(entries))
	for _, e := range entries {
		if e.room == nil {
			continue
		}
		out = append(out, RoomInfo{
			SessionID:   e.room.SessionID(),
			Subscribers: e.room.SubscriberCount(),
			Online:      len(e.room.PresenceSnapshot()),
		})
	}
	return out
}
