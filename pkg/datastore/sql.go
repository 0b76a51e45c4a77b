package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RomaniukOleksii/SpeakV/pkg/model"
)

// Fractional seconds keep history ordering stable even when two messages
// land within the same second.
const dbTimeLayout = "2006-01-02 15:04:05.000000000"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all SpeakV entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT    NOT NULL,
		role          INTEGER NOT NULL DEFAULT 0 CHECK(role >= 0 AND role <= 1),
		is_banned     INTEGER NOT NULL DEFAULT 0,
		avatar_url    TEXT    NOT NULL DEFAULT '',
		bio           TEXT    NOT NULL DEFAULT '',
		status        TEXT    NOT NULL DEFAULT '',
		nick_color    TEXT    NOT NULL DEFAULT '',
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS channels (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL UNIQUE CHECK(length(name) > 0 AND length(name) <= 64),
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id         TEXT NOT NULL PRIMARY KEY,
		username   TEXT NOT NULL,
		channel    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_channel ON chat_messages(channel, created_at);

	CREATE TABLE IF NOT EXISTS private_messages (
		id         TEXT NOT NULL PRIMARY KEY,
		sender     TEXT NOT NULL,
		recipient  TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_private_messages_pair ON private_messages(sender, recipient, created_at);

	CREATE TABLE IF NOT EXISTS file_messages (
		id         TEXT    NOT NULL PRIMARY KEY,
		sender     TEXT    NOT NULL,
		channel    TEXT    NOT NULL DEFAULT '',
		recipient  TEXT    NOT NULL DEFAULT '',
		filename   TEXT    NOT NULL,
		data       BLOB    NOT NULL,
		is_image   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_messages_channel ON file_messages(channel, created_at);

	CREATE TABLE IF NOT EXISTS reactions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		username   TEXT NOT NULL,
		emoji      TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dbTimeLayout, value, time.UTC)
	if err == nil {
		return t, nil
	}
	// Rows whose created_at came from datetime('now') carry no fraction.
	return time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
}

// ---- Users ----

// CreateUser registers a new account. The credential must already be hashed.
func (s *baseProvider) CreateUser(username, passwordHash string, role model.Role) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("datastore: create user: %w", model.ErrInvalidRole)
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		username, passwordHash, int(role))
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *baseProvider) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var roleInt, bannedInt int
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT id, username, password_hash, role, is_banned, avatar_url, bio, status, nick_color, created_at FROM users WHERE username = ?",
		username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &roleInt, &bannedInt, &u.AvatarURL, &u.Bio, &u.Status, &u.NickColor, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.Role = model.Role(roleInt)
	u.Banned = bannedInt != 0
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// CountUsers returns the number of registered accounts.
func (s *baseProvider) CountUsers() (int64, error) {
	var count int64
	if err := s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return count, nil
}

// SetUserBanned flips the durable ban flag for an account.
func (s *baseProvider) SetUserBanned(username string, banned bool) error {
	bannedInt := 0
	if banned {
		bannedInt = 1
	}
	_, err := s.ExecContext(context.Background(), "UPDATE users SET is_banned = ? WHERE username = ?", bannedInt, username)
	if err != nil {
		return fmt.Errorf("datastore: set user banned: %w", err)
	}
	return nil
}

// UpdateUserProfile replaces the avatar URL and bio for an account.
func (s *baseProvider) UpdateUserProfile(username, avatarURL, bio string) error {
	_, err := s.ExecContext(context.Background(), "UPDATE users SET avatar_url = ?, bio = ? WHERE username = ?", avatarURL, bio, username)
	if err != nil {
		return fmt.Errorf("datastore: update user profile: %w", err)
	}
	return nil
}

// ---- Channels ----

// CreateChannel inserts a channel if absent and reports whether it was new.
func (s *baseProvider) CreateChannel(channel *model.Channel) (bool, error) {
	if err := channel.Validate(); err != nil {
		return false, err
	}

	res, err := s.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO channels (name) VALUES (?)", channel.Name)
	if err != nil {
		return false, fmt.Errorf("datastore: create channel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		channel.CreatedAt = time.Now().UTC()
	}
	return n > 0, nil
}

// ListChannels returns all channels in creation order.
func (s *baseProvider) ListChannels() ([]model.Channel, error) {
	rows, err := s.QueryContext(context.Background(), "SELECT name, created_at FROM channels ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		var ch model.Channel
		var createdAt string
		if err := rows.Scan(&ch.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan channel: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan channel: %w", err)
		}
		ch.CreatedAt = parsed
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ChannelExists reports whether a channel with the given name exists.
func (s *baseProvider) ChannelExists(name string) (bool, error) {
	var count int
	err := s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM channels WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check channel: %w", err)
	}
	return count > 0, nil
}

// ---- Messages ----

func (s *baseProvider) SaveChatMessage(m *model.ChatMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("datastore: chat message failed validation: %w", err)
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO chat_messages (id, username, channel, body, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.Username, m.Channel, m.Body, formatDBTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("datastore: save chat message: %w", err)
	}
	return nil
}

func (s *baseProvider) SavePrivateMessage(m *model.PrivateMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("datastore: private message failed validation: %w", err)
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO private_messages (id, sender, recipient, body, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.Sender, m.Recipient, m.Body, formatDBTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("datastore: save private message: %w", err)
	}
	return nil
}

func (s *baseProvider) SaveFileMessage(m *model.FileMessage) error {
	isImageInt := 0
	if m.IsImage {
		isImageInt = 1
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO file_messages (id, sender, channel, recipient, filename, data, is_image, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.Sender, m.Channel, m.Recipient, m.Filename, m.Data, isImageInt, formatDBTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("datastore: save file message: %w", err)
	}
	return nil
}

func (s *baseProvider) AddReaction(r *model.Reaction) error {
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO reactions (message_id, username, emoji) VALUES (?, ?, ?)",
		r.MessageID, r.Username, r.Emoji)
	if err != nil {
		return fmt.Errorf("datastore: add reaction: %w", err)
	}
	return nil
}

// ---- History ----

func (s *baseProvider) ListChannelMessages(channel string, limit int) ([]model.ChatMessage, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, username, channel, body, created_at FROM chat_messages WHERE channel = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list channel messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Username, &m.Channel, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan chat message: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan chat message: %w", err)
		}
		m.Timestamp = parsed
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseChat(messages)
	return messages, nil
}

func (s *baseProvider) ListChannelFiles(channel string, limit int) ([]model.FileMessage, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, sender, channel, recipient, filename, data, is_image, created_at FROM file_messages WHERE channel = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list channel files: %w", err)
	}
	return collectFiles(rows)
}

func (s *baseProvider) ListDirectMessages(userA, userB string, limit int) ([]model.PrivateMessage, error) {
	rows, err := s.QueryContext(context.Background(),
		`SELECT id, sender, recipient, body, created_at FROM private_messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list direct messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.PrivateMessage
	for rows.Next() {
		var m model.PrivateMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan private message: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan private message: %w", err)
		}
		m.Timestamp = parsed
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reversePrivate(messages)
	return messages, nil
}

func (s *baseProvider) ListDirectFiles(userA, userB string, limit int) ([]model.FileMessage, error) {
	rows, err := s.QueryContext(context.Background(),
		`SELECT id, sender, channel, recipient, filename, data, is_image, created_at FROM file_messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list direct files: %w", err)
	}
	return collectFiles(rows)
}

func (s *baseProvider) ListReactionsFor(ids []string) ([]model.Reaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.QueryContext(context.Background(),
		"SELECT message_id, username, emoji FROM reactions WHERE message_id IN ("+placeholders+") ORDER BY id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: list reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reactions []model.Reaction
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.MessageID, &r.Username, &r.Emoji); err != nil {
			return nil, fmt.Errorf("datastore: scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func collectFiles(rows *sql.Rows) ([]model.FileMessage, error) {
	defer func() { _ = rows.Close() }()

	var files []model.FileMessage
	for rows.Next() {
		var f model.FileMessage
		var isImageInt int
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Sender, &f.Channel, &f.Recipient, &f.Filename, &f.Data, &isImageInt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan file message: %w", err)
		}
		f.IsImage = isImageInt != 0
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan file message: %w", err)
		}
		f.Timestamp = parsed
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseFiles(files)
	return files, nil
}

func reverseChat(s []model.ChatMessage) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reversePrivate(s []model.PrivateMessage) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseFiles(s []model.FileMessage) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
