// Package store is the system of record for sessions, topics, votes
// and messages. Rooms hydrate from it and treat their own state as a
// rebuildable cache.
package store

import (
	"context"
	"errors"

	"github.com/quorumlab/quorum/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSessionClosed = errors.New("session is not active")
	ErrTopicClosed   = errors.New("topic is closed")
)

// Store defines the interface for persistent storage.
// Both RedisStore and MemoryStore implement this interface.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	CloseSession(ctx context.Context, id domain.SessionID) (domain.Session, error)

	CreateTopic(ctx context.Context, t domain.Topic) error
	CloseTopic(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (domain.Topic, error)

	UpsertVote(ctx context.Context, sessionID domain.SessionID, v domain.Vote) error
	// GetVote returns the user's current ballot on a topic, or
	// ErrNotFound if none exists.
	GetVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) (domain.Vote, error)
	DeleteVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) error

	AppendMessage(ctx context.Context, m domain.Message) error

	// GetSessionSnapshot returns one consistent view of the whole
	// session: the room hydration read.
	GetSessionSnapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error)
}
