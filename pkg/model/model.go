// Package model defines the core domain types for SpeakV.
package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrInvalidRole = errors.New("invalid role: must be user (0) or admin (1)")

// Role represents a user's permission level.
type Role int

const (
	RoleUser  Role = iota // Default role, can join channels and talk
	RoleAdmin             // Full control: kick, ban, mute, unmute
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole converts a string to a Role. Unknown strings map to RoleUser.
func ParseRole(s string) Role {
	if s == "admin" {
		return RoleAdmin
	}
	return RoleUser
}

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermKickUser Permission = iota
	PermBanUser
	PermMuteUser
)

// User represents a registered account. Accounts are never deleted, only
// flagged banned.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Banned       bool      `json:"banned"`
	AvatarURL    string    `json:"avatar_url"`
	Bio          string    `json:"bio"`
	Status       string    `json:"status"`
	NickColor    string    `json:"nick_color"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// Session represents one connected peer, keyed by its transport address
// (in-memory only). An unauthenticated session never appears in a channel
// broadcast and never receives channel-scoped relay.
type Session struct {
	Addr          string // transport address, the registry key
	Username      string
	Role          Role
	Channel       string
	Authenticated bool
	Muted         bool
	Status        string
	NickColor     string
	LastSeen      time.Time
}
