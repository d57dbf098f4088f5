package domain

import (
	"errors"
	"time"
)

type Choice string

const (
	ChoiceYes     Choice = "YES"
	ChoiceNo      Choice = "NO"
	ChoiceAbstain Choice = "ABSTAIN"
)

var (
	ErrUnknownChoice = errors.New("unknown vote choice")
	ErrBadWeight     = errors.New("vote weight must be positive")
)

func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceYes, ChoiceNo, ChoiceAbstain:
		return Choice(s), nil
	}
	return "", ErrUnknownChoice
}

// Vote is the single current ballot of one user on one topic.
// CastAt is always server-assigned; client clocks are never trusted.
type Vote struct {
	TopicID TopicID   `json:"topicId"`
	UserID  UserID    `json:"userId"`
	Choice  Choice    `json:"choice"`
	Weight  float64   `json:"weight"`
	CastAt  time.Time `json:"castAt"`
}

func NewVote(topicID TopicID, userID UserID, choice Choice, weight float64, castAt time.Time) (*Vote, error) {
	if _, err := ParseChoice(string(choice)); err != nil {
		return nil, err
	}
	if weight <= 0 {
		return nil, ErrBadWeight
	}
	return &Vote{
		TopicID: topicID,
		UserID:  userID,
		Choice:  choice,
		Weight:  weight,
		CastAt:  castAt,
	}, nil
}
