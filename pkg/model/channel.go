package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// ChannelDefaultName is where every fresh session starts.
	ChannelDefaultName = "Lobby"

	MaxChannelNameLength = 64
)

var ErrChannelNameEmpty = errors.New("channel name must not be empty")
var ErrChannelNameTooLong = errors.New("channel name too long")

// Channel represents a durable named channel. Channels hold no members
// directly; membership is derived from live sessions whose current channel
// matches.
type Channel struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the channel name constraints.
func (ch *Channel) Validate() error {
	if strings.TrimSpace(ch.Name) == "" {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(ch.Name) > MaxChannelNameLength {
		return ErrChannelNameTooLong
	}
	return nil
}
