// Package app wires the write path: every mutation goes to storage
// first and, on success, to the live room, which fans the resulting
// event out to subscribers. Broadcast failure never fails the write.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
	"github.com/quorumlab/quorum/internal/store"
)

type Orchestrator struct {
	Store store.Store
	Rooms *core.Registry
}

func NewOrchestrator(st store.Store, rooms *core.Registry) *Orchestrator {
	return &Orchestrator{Store: st, Rooms: rooms}
}

func (o *Orchestrator) CreateSession(ctx context.Context, teamID domain.TeamID, title, description string) (domain.Session, error) {
	sess, err := domain.NewSession(teamID, title, description)
	if err != nil {
		return domain.Session{}, err
	}
	if err := o.Store.CreateSession(ctx, *sess); err != nil {
		return domain.Session{}, err
	}
	log.Info().Str("module", "app").Str("session", string(sess.ID)).Msg("session created")
	return *sess, nil
}

func (o *Orchestrator) CloseSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return o.Store.CloseSession(ctx, id)
}

func (o *Orchestrator) Snapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error) {
	return o.Store.GetSessionSnapshot(ctx, id)
}

// CreateTopic persists the topic, then mirrors it into the live room
// so watchers see it without refetching.
func (o *Orchestrator) CreateTopic(ctx context.Context, sessionID domain.SessionID, title, description string) (domain.Topic, error) {
	topic, err := domain.NewTopic(sessionID, title, description)
	if err != nil {
		return domain.Topic{}, err
	}
	if err := o.Store.CreateTopic(ctx, *topic); err != nil {
		return domain.Topic{}, err
	}
	if room, ok := o.Rooms.Peek(sessionID); ok {
		room.AddTopic(*topic)
	}
	return *topic, nil
}

func (o *Orchestrator) CloseTopic(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (domain.Topic, error) {
	topic, err := o.Store.CloseTopic(ctx, sessionID, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	if room, ok := o.Rooms.Peek(sessionID); ok {
		_ = room.CloseTopic(topicID)
	}
	return topic, nil
}

// CastVote resolves the weight from the caller's role, pins it to any
// weight already recorded for this (topic, user), stamps the server
// time, and writes storage before the room. The pin holds whether the
// earlier ballot lives in a hydrated room or only in storage.
func (o *Orchestrator) CastVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID, choice domain.Choice, role domain.Role) (core.Tally, error) {
	weight := role.VoteWeight()
	room, haveRoom := o.Rooms.Peek(sessionID)
	if haveRoom {
		if cur, ok := room.VoteFor(topicID, userID); ok {
			weight = cur.Weight
		}
	} else {
		cur, err := o.Store.GetVote(ctx, sessionID, topicID, userID)
		switch {
		case err == nil:
			weight = cur.Weight
		case !errors.Is(err, store.ErrNotFound):
			return core.Tally{}, err
		}
	}
	vote, err := domain.NewVote(topicID, userID, choice, weight, time.Now().UTC())
	if err != nil {
		return core.Tally{}, err
	}
	if err := o.Store.UpsertVote(ctx, sessionID, *vote); err != nil {
		return core.Tally{}, err
	}
	if !haveRoom {
		return o.storedTally(ctx, sessionID, topicID)
	}
	return room.ApplyVote(topicID, userID, vote.Choice, vote.Weight, vote.CastAt)
}

func (o *Orchestrator) RetractVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) (core.Tally, error) {
	if err := o.Store.DeleteVote(ctx, sessionID, topicID, userID); err != nil {
		return core.Tally{}, err
	}
	if room, ok := o.Rooms.Peek(sessionID); ok {
		return room.RetractVote(topicID, userID), nil
	}
	return o.storedTally(ctx, sessionID, topicID)
}

func (o *Orchestrator) SendMessage(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, displayName, content string) (domain.Message, error) {
	msg, err := domain.NewChatMessage(sessionID, userID, displayName, content)
	if err != nil {
		return domain.Message{}, err
	}
	if err := o.Store.AppendMessage(ctx, *msg); err != nil {
		return domain.Message{}, err
	}
	if room, ok := o.Rooms.Peek(sessionID); ok {
		room.AppendMessage(*msg)
	}
	return *msg, nil
}

// Results recomputes the tally from the live room when one exists,
// falling back to a storage read otherwise.
func (o *Orchestrator) Results(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (core.Tally, error) {
	if room, ok := o.Rooms.Peek(sessionID); ok {
		return room.TallyFor(topicID), nil
	}
	return o.storedTally(ctx, sessionID, topicID)
}

// storedTally recomputes a topic's tally from a storage snapshot, for
// callers hitting a session with no hydrated room.
func (o *Orchestrator) storedTally(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (core.Tally, error) {
	snap, err := o.Store.GetSessionSnapshot(ctx, sessionID)
	if err != nil {
		return core.Tally{}, err
	}
	idx := make(map[domain.UserID]domain.Vote)
	for _, v := range snap.Votes {
		if v.TopicID == topicID {
			idx[v.UserID] = v
		}
	}
	return core.ComputeTally(idx), nil
}
