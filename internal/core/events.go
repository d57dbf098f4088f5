package core

import "github.com/quorumlab/quorum/internal/domain"

type EventType string

const (
	EventPresence EventType = "presence"
	EventVote     EventType = "vote"
	EventMessage  EventType = "message"
	EventTopic    EventType = "topic"
)

// PresenceEntry is the connection-counted online state of one user.
// A user with several tabs open holds one entry with Connections > 1.
type PresenceEntry struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	Connections int           `json:"connections"`
}

// Event is what a room fans out to its subscribers. Seq is assigned
// inside the room's critical section; subscribers of the same room see
// strictly increasing Seq in the order the room applied mutations.
//
// Presence events carry the full member list and vote events carry the
// full tally for the affected topic. Clients replace, never accumulate.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Seq       uint64           `json:"seq"`

	Presence []PresenceEntry `json:"presence,omitempty"`

	TopicID domain.TopicID `json:"topicId,omitempty"`
	Tally   *Tally         `json:"tally,omitempty"`

	Message *domain.Message `json:"message,omitempty"`
	Topic   *domain.Topic   `json:"topic,omitempty"`
}
