package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	SessionID string
	TeamID    string
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionClosed   SessionStatus = "CLOSED"
	SessionArchived SessionStatus = "ARCHIVED"
)

var (
	ErrTitleEmpty    = errors.New("title empty")
	ErrBadTransition = errors.New("invalid session status transition")
)

type Session struct {
	ID          SessionID     `json:"id"`
	TeamID      TeamID        `json:"teamId"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}

func NewSession(teamID TeamID, title, description string) (*Session, error) {
	if title == "" {
		return nil, ErrTitleEmpty
	}
	return &Session{
		ID:          SessionID(uuid.NewString()),
		TeamID:      teamID,
		Title:       title,
		Description: description,
		Status:      SessionActive,
		StartedAt:   time.Now().UTC(),
	}, nil
}

// Transition enforces the one-way ACTIVE -> CLOSED -> ARCHIVED lifecycle.
func (s *Session) Transition(next SessionStatus) error {
	ok := (s.Status == SessionActive && next == SessionClosed) ||
		(s.Status == SessionClosed && next == SessionArchived)
	if !ok {
		return ErrBadTransition
	}
	s.Status = next
	if next == SessionClosed {
		now := time.Now().UTC()
		s.EndedAt = &now
	}
	return nil
}

// Snapshot is the consistent read used to hydrate a room and to seed
// a freshly connected client.
type Snapshot struct {
	Session  Session   `json:"session"`
	Topics   []Topic   `json:"topics"`
	Votes    []Vote    `json:"votes"`
	Messages []Message `json:"messages"`
}
