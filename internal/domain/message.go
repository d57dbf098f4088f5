package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxMessageLen = 2000

var (
	ErrEmptyMessage   = errors.New("message content empty")
	ErrMessageTooLong = errors.New("message content too long")
)

type MessageID string

type MessageType string

const (
	MessageChat   MessageType = "CHAT"
	MessageSystem MessageType = "SYSTEM"
)

// Message is append-only; its ID is globally unique and is the sole
// deduplication key across the write path and the event path.
type Message struct {
	ID          MessageID   `json:"id"`
	SessionID   SessionID   `json:"sessionId"`
	UserID      UserID      `json:"userId"`
	DisplayName string      `json:"displayName"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	SentAt      time.Time   `json:"sentAt"`
}

func NewChatMessage(sessionID SessionID, userID UserID, displayName, content string) (*Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:          MessageID(uuid.NewString()),
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		Type:        MessageChat,
		SentAt:      time.Now().UTC(),
	}, nil
}
