package domain

import (
	"time"

	"github.com/google/uuid"
)

type TopicID string

type TopicStatus string

const (
	TopicOpen   TopicStatus = "OPEN"
	TopicClosed TopicStatus = "CLOSED"
)

type Topic struct {
	ID          TopicID     `json:"id"`
	SessionID   SessionID   `json:"sessionId"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      TopicStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	ClosedAt    *time.Time  `json:"closedAt,omitempty"`
}

func NewTopic(sessionID SessionID, title, description string) (*Topic, error) {
	if title == "" {
		return nil, ErrTitleEmpty
	}
	return &Topic{
		ID:          TopicID(uuid.NewString()),
		SessionID:   sessionID,
		Title:       title,
		Description: description,
		Status:      TopicOpen,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (t *Topic) Close() {
	if t.Status == TopicClosed {
		return
	}
	t.Status = TopicClosed
	now := time.Now().UTC()
	t.ClosedAt = &now
}
