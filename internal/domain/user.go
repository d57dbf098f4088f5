// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, displayName string) (*User, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &User{ID: id, DisplayName: displayName}, nil
}

// Role determines a member's vote weight. Weight resolution happens once,
// at cast time; after that the vote's weight is immutable.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
	RoleGuest     Role = "GUEST"
)

func (r Role) VoteWeight() float64 {
	switch r {
	case RoleAdmin:
		return 1.5
	case RoleModerator:
		return 1.2
	case RoleGuest:
		return 0.5
	default:
		return 1.0
	}
}
