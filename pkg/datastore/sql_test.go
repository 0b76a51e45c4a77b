package datastore_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/datastore"
	"github.com/RomaniukOleksii/SpeakV/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		role      model.Role
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			username:  "johndoe",
			role:      model.RoleUser,
			expectErr: false,
		},
		"injection_username": { // SQL injection contains invalid chars (quotes, spaces, equals)
			username:  "' OR '1'='1",
			role:      model.RoleAdmin,
			expectErr: true,
		},
		"empty_username": {
			username:  "",
			role:      model.RoleUser,
			expectErr: true,
		},
		"full_username": { // 65 character username is too long
			username:  "24433252080542468109190329288548376491503980265648043643151614656",
			role:      model.RoleUser,
			expectErr: true,
		},
		"over_privileged": { // Privilege does not exist
			username:  "janedoe",
			role:      10,
			expectErr: true,
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			got, err := store.NonTx().CreateUser(tc.username, "hash", tc.role)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateUser: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateUser: unexpected error: %v", err)
			}

			want := &model.User{
				ID:           1,
				Username:     tc.username,
				PasswordHash: "hash",
				Role:         tc.role,
			}
			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "CreatedAt")); diff != "" {
				t.Errorf("CreateUser mismatch (-want +got):\n%s", diff)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	if _, err := ds.CreateUser("alice", "h1", model.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}
	if _, err := ds.CreateUser("alice", "h2", model.RoleUser); err == nil {
		t.Fatalf("CreateUser: expected unique constraint error, got nil")
	}
}

func TestGetUserByUsername(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	created, err := ds.CreateUser("bob", "secret-hash", model.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}

	got, err := ds.GetUserByUsername("bob")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if diff := cmp.Diff(created, got, cmpopts.IgnoreFields(model.User{}, "CreatedAt")); diff != "" {
		t.Errorf("GetUserByUsername mismatch (-want +got):\n%s", diff)
	}

	missing, err := ds.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetUserByUsername: expected nil for missing user, got %+v", missing)
	}
}

func TestCountUsers(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	count, err := ds.CountUsers()
	if err != nil {
		t.Fatalf("CountUsers: unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("CountUsers: want 0, got %d", count)
	}

	if _, err := ds.CreateUser("alice", "h", model.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}
	if _, err := ds.CreateUser("bob", "h", model.RoleUser); err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}

	count, err = ds.CountUsers()
	if err != nil {
		t.Fatalf("CountUsers: unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("CountUsers: want 2, got %d", count)
	}
}

func TestSetUserBanned(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	if _, err := ds.CreateUser("mallory", "h", model.RoleUser); err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}

	if err := ds.SetUserBanned("mallory", true); err != nil {
		t.Fatalf("SetUserBanned: unexpected error: %v", err)
	}
	u, err := ds.GetUserByUsername("mallory")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if !u.Banned {
		t.Fatalf("SetUserBanned: ban flag not persisted")
	}

	if err := ds.SetUserBanned("mallory", false); err != nil {
		t.Fatalf("SetUserBanned: unexpected error: %v", err)
	}
	u, err = ds.GetUserByUsername("mallory")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if u.Banned {
		t.Errorf("SetUserBanned: unban not persisted")
	}
}

func TestUpdateUserProfile(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	if _, err := ds.CreateUser("carol", "h", model.RoleUser); err != nil {
		t.Fatalf("CreateUser: unexpected error: %v", err)
	}

	if err := ds.UpdateUserProfile("carol", "https://example.com/a.png", "hello there"); err != nil {
		t.Fatalf("UpdateUserProfile: unexpected error: %v", err)
	}

	u, err := ds.GetUserByUsername("carol")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if u.AvatarURL != "https://example.com/a.png" || u.Bio != "hello there" {
		t.Errorf("UpdateUserProfile: got avatar=%q bio=%q", u.AvatarURL, u.Bio)
	}
}

func TestCreateChannelIdempotent(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	created, err := ds.CreateChannel(&model.Channel{Name: "general"})
	if err != nil {
		t.Fatalf("CreateChannel: unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("CreateChannel: expected first insert to report created")
	}

	created, err = ds.CreateChannel(&model.Channel{Name: "general"})
	if err != nil {
		t.Fatalf("CreateChannel: unexpected error: %v", err)
	}
	if created {
		t.Fatalf("CreateChannel: expected duplicate insert to report not created")
	}

	channels, err := ds.ListChannels()
	if err != nil {
		t.Fatalf("ListChannels: unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "general" {
		t.Errorf("ListChannels: got %+v", channels)
	}

	exists, err := ds.ChannelExists("general")
	if err != nil {
		t.Fatalf("ChannelExists: unexpected error: %v", err)
	}
	if !exists {
		t.Errorf("ChannelExists: expected true for general")
	}
}

func TestChannelHistoryWindow(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		m := &model.ChatMessage{
			ID:        fmt.Sprintf("msg-%02d", i),
			Username:  "alice",
			Channel:   "general",
			Body:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := ds.SaveChatMessage(m); err != nil {
			t.Fatalf("SaveChatMessage: unexpected error: %v", err)
		}
	}

	got, err := ds.ListChannelMessages("general", 50)
	if err != nil {
		t.Fatalf("ListChannelMessages: unexpected error: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("ListChannelMessages: want 50 records, got %d", len(got))
	}
	// Oldest records fall out of the window, remainder ascends.
	if got[0].ID != "msg-10" || got[49].ID != "msg-59" {
		t.Errorf("ListChannelMessages: window bounds %q..%q", got[0].ID, got[49].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("ListChannelMessages: not ascending at index %d", i)
		}
	}
}

func TestDirectMessagesUnorderedPair(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []model.PrivateMessage{
		{ID: "pm-1", Sender: "alice", Recipient: "bob", Body: "hi bob", Timestamp: base},
		{ID: "pm-2", Sender: "bob", Recipient: "alice", Body: "hi alice", Timestamp: base.Add(time.Second)},
		{ID: "pm-3", Sender: "alice", Recipient: "carol", Body: "hi carol", Timestamp: base.Add(2 * time.Second)},
	}
	for i := range msgs {
		if err := ds.SavePrivateMessage(&msgs[i]); err != nil {
			t.Fatalf("SavePrivateMessage: unexpected error: %v", err)
		}
	}

	// Both orderings of the pair return the same conversation.
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		got, err := ds.ListDirectMessages(pair[0], pair[1], 50)
		if err != nil {
			t.Fatalf("ListDirectMessages(%v): unexpected error: %v", pair, err)
		}
		want := []model.PrivateMessage{msgs[0], msgs[1]}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ListDirectMessages(%v) mismatch (-want +got):\n%s", pair, diff)
		}
	}
}

func TestFileMessageRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	f := &model.FileMessage{
		ID:        "file-1",
		Sender:    "alice",
		Channel:   "general",
		Filename:  "photo.png",
		Data:      []byte{0x89, 0x50, 0x4e, 0x47},
		IsImage:   true,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := ds.SaveFileMessage(f); err != nil {
		t.Fatalf("SaveFileMessage: unexpected error: %v", err)
	}

	got, err := ds.ListChannelFiles("general", 50)
	if err != nil {
		t.Fatalf("ListChannelFiles: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]model.FileMessage{*f}, got); diff != "" {
		t.Errorf("ListChannelFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestReactions(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ds := store.NonTx()
	reactions := []model.Reaction{
		{MessageID: "msg-1", Username: "bob", Emoji: "👍"},
		{MessageID: "msg-1", Username: "carol", Emoji: "🎉"},
		{MessageID: "msg-2", Username: "bob", Emoji: "👀"},
	}
	for i := range reactions {
		if err := ds.AddReaction(&reactions[i]); err != nil {
			t.Fatalf("AddReaction: unexpected error: %v", err)
		}
	}

	got, err := ds.ListReactionsFor([]string{"msg-1"})
	if err != nil {
		t.Fatalf("ListReactionsFor: unexpected error: %v", err)
	}
	want := []model.Reaction{reactions[0], reactions[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListReactionsFor mismatch (-want +got):\n%s", diff)
	}

	none, err := ds.ListReactionsFor(nil)
	if err != nil {
		t.Fatalf("ListReactionsFor: unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListReactionsFor: expected empty result for no ids, got %d", len(none))
	}
}
