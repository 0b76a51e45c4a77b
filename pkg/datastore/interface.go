package datastore

import (
	"context"

	"github.com/RomaniukOleksii/SpeakV/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all SpeakV entities.
// The default implementation is SQLite; an in-memory mirror exists for
// tests and can be extended to other backends.
type DataStore interface {
	Close() error

	UserReadProvider
	UserWriteProvider

	ChannelReadProvider
	ChannelWriteProvider

	MessageReadProvider
	MessageWriteProvider
}

// Compile-time check: the SQLite factory satisfies the interface.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type UserReadProvider interface {
	// GetUserByUsername retrieves a user by username. Returns (nil, nil) if not found.
	GetUserByUsername(username string) (*model.User, error)

	// CountUsers returns the total number of registered accounts.
	CountUsers() (int64, error)
}

type UserWriteProvider interface {
	// CreateUser registers a new account with a pre-hashed credential.
	CreateUser(username, passwordHash string, role model.Role) (*model.User, error)

	// SetUserBanned flips the durable ban flag. Accounts are never deleted.
	SetUserBanned(username string, banned bool) error

	// UpdateUserProfile replaces the avatar URL and bio.
	UpdateUserProfile(username, avatarURL, bio string) error
}

type ChannelReadProvider interface {
	ListChannels() ([]model.Channel, error)
	ChannelExists(name string) (bool, error)
}

type ChannelWriteProvider interface {
	// CreateChannel inserts a channel if absent. Reports whether the channel
	// was newly created.
	CreateChannel(channel *model.Channel) (bool, error)
}

type MessageReadProvider interface {
	// ListChannelMessages returns the most recent chat messages for a
	// channel, ascending by timestamp, at most limit records.
	ListChannelMessages(channel string, limit int) ([]model.ChatMessage, error)

	// ListChannelFiles returns the most recent file messages for a channel,
	// ascending by timestamp, at most limit records.
	ListChannelFiles(channel string, limit int) ([]model.FileMessage, error)

	// ListDirectMessages returns the most recent private messages between an
	// unordered user pair, ascending by timestamp, at most limit records.
	ListDirectMessages(userA, userB string, limit int) ([]model.PrivateMessage, error)

	// ListDirectFiles returns the most recent direct file messages between an
	// unordered user pair, ascending by timestamp, at most limit records.
	ListDirectFiles(userA, userB string, limit int) ([]model.FileMessage, error)

	// ListReactionsFor returns every reaction whose target id is in ids.
	ListReactionsFor(ids []string) ([]model.Reaction, error)
}

type MessageWriteProvider interface {
	SaveChatMessage(m *model.ChatMessage) error
	SavePrivateMessage(m *model.PrivateMessage) error
	SaveFileMessage(m *model.FileMessage) error
	AddReaction(r *model.Reaction) error
}
