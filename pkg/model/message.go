package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 2000

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// ChatMessage is a channel-scoped text message. Append-only; never mutated
// except by attached reactions.
type ChatMessage struct {
	ID        string    `json:"id"` // globally unique, stable across processes
	Username  string    `json:"username"`
	Channel   string    `json:"channel"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks body constraints shared by chat and direct messages.
func (m *ChatMessage) Validate() error {
	return validateBody(m.Body)
}

// PrivateMessage is a direct message between a peer pair, no owning channel.
type PrivateMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *PrivateMessage) Validate() error {
	return validateBody(m.Body)
}

// FileMessage is a fully reassembled file transfer. Recipient is empty for
// channel files, set for direct transfers (then Channel is empty).
type FileMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Filename  string    `json:"filename"`
	Data      []byte    `json:"data"`
	IsImage   bool      `json:"is_image"`
	Timestamp time.Time `json:"timestamp"`
}

// Reaction is an append-only (message, user, emoji) triple.
type Reaction struct {
	MessageID string `json:"message_id"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrMessageBodyEmpty
	}
	if utf8.RuneCountInString(body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}
