package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/datastore"
	"github.com/RomaniukOleksii/SpeakV/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID int64

	usersByUsername map[string]*model.User
	channels        []model.Channel
	chatMessages    []model.ChatMessage
	privateMessages []model.PrivateMessage
	fileMessages    []model.FileMessage
	reactions       []model.Reaction
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		usersByUsername: make(map[string]*model.User),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Users ----

// CreateUser registers a new account. The credential must already be hashed.
func (s *MemoryStore) CreateUser(username, passwordHash string, role model.Role) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("store: create user: %w", model.ErrInvalidRole)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, fmt.Errorf("store: create user: constraint failed: UNIQUE constraint failed: users.username")
	}
	user := &model.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	s.nextUserID++
	s.usersByUsername[username] = user
	copyUser := *user
	return &copyUser, nil
}

// GetUserByUsername retrieves a user by username.
func (s *MemoryStore) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// CountUsers returns the number of registered accounts.
func (s *MemoryStore) CountUsers() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.usersByUsername)), nil
}

// SetUserBanned flips the durable ban flag for an account.
func (s *MemoryStore) SetUserBanned(username string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil
	}
	user.Banned = banned
	return nil
}

// UpdateUserProfile replaces the avatar URL and bio for an account.
func (s *MemoryStore) UpdateUserProfile(username, avatarURL, bio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil
	}
	user.AvatarURL = avatarURL
	user.Bio = bio
	return nil
}

// ---- Channels ----

// CreateChannel inserts a channel if absent and reports whether it was new.
func (s *MemoryStore) CreateChannel(channel *model.Channel) (bool, error) {
	if err := channel.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.Name == channel.Name {
			return false, nil
		}
	}
	channel.CreatedAt = s.now().UTC()
	s.channels = append(s.channels, *channel)
	return true, nil
}

// ListChannels returns all channels in creation order.
func (s *MemoryStore) ListChannels() ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]model.Channel, len(s.channels))
	copy(channels, s.channels)
	return channels, nil
}

// ChannelExists reports whether a channel with the given name exists.
func (s *MemoryStore) ChannelExists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ---- Messages ----

func (s *MemoryStore) SaveChatMessage(m *model.ChatMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("store: chat message failed validation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatMessages = append(s.chatMessages, *m)
	return nil
}

func (s *MemoryStore) SavePrivateMessage(m *model.PrivateMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("store: private message failed validation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privateMessages = append(s.privateMessages, *m)
	return nil
}

func (s *MemoryStore) SaveFileMessage(m *model.FileMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := *m
	f.Data = append([]byte(nil), m.Data...)
	s.fileMessages = append(s.fileMessages, f)
	return nil
}

func (s *MemoryStore) AddReaction(r *model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, *r)
	return nil
}

// ---- History ----

func (s *MemoryStore) ListChannelMessages(channel string, limit int) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ChatMessage
	for _, m := range s.chatMessages {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	sortChatAscending(out)
	return tailChat(out, limit), nil
}

func (s *MemoryStore) ListChannelFiles(channel string, limit int) ([]model.FileMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FileMessage
	for _, f := range s.fileMessages {
		if f.Channel == channel {
			out = append(out, f)
		}
	}
	sortFilesAscending(out)
	return tailFiles(out, limit), nil
}

func (s *MemoryStore) ListDirectMessages(userA, userB string, limit int) ([]model.PrivateMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PrivateMessage
	for _, m := range s.privateMessages {
		if samePair(m.Sender, m.Recipient, userA, userB) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) ListDirectFiles(userA, userB string, limit int) ([]model.FileMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FileMessage
	for _, f := range s.fileMessages {
		if samePair(f.Sender, f.Recipient, userA, userB) {
			out = append(out, f)
		}
	}
	sortFilesAscending(out)
	return tailFiles(out, limit), nil
}

func (s *MemoryStore) ListReactionsFor(ids []string) ([]model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []model.Reaction
	for _, r := range s.reactions {
		if wanted[r.MessageID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func samePair(sender, recipient, userA, userB string) bool {
	if strings.Compare(sender, recipient) > 0 {
		sender, recipient = recipient, sender
	}
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return sender == userA && recipient == userB
}

func sortChatAscending(s []model.ChatMessage) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

func sortFilesAscending(s []model.FileMessage) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

func tailChat(s []model.ChatMessage, limit int) []model.ChatMessage {
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

func tailFiles(s []model.FileMessage, limit int) []model.FileMessage {
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

// MemoryFactory adapts a MemoryStore to the provider factory interface.
// Transactions are a formality here; every call commits immediately.
type MemoryFactory struct {
	Store *MemoryStore
}

func (f MemoryFactory) NonTx() datastore.DataStore {
	return f.Store
}

func (f MemoryFactory) Tx(context.Context) (datastore.DataStoreTx, error) {
	return memoryTx{f.Store}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (memoryTx) Commit() error   { return nil }
func (memoryTx) Rollback() error { return nil }

// Compile-time checks against the datastore interfaces.
var (
	_ datastore.DataStore           = (*MemoryStore)(nil)
	_ datastore.DataProviderFactory = MemoryFactory{}
)
