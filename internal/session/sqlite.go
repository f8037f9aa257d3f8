// ABOUTME: SQLite implementation of the session Store using modernc.org/sqlite
// ABOUTME: Provides session/message persistence with automatic schema creation

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "session-store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite session store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT PRIMARY KEY,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id          TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			tools_used  TEXT,
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (session_key) REFERENCES sessions(key)
		);

		CREATE INDEX IF NOT EXISTS idx_session_messages_key_created
			ON session_messages(session_key, created_at);

		CREATE TABLE IF NOT EXISTS archived_messages (
			id          TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			tools_used  TEXT,
			created_at  DATETIME NOT NULL,
			archived_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_archived_messages_key
			ON archived_messages(session_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession loads a session row and its messages.
// Returns ErrNotFound if the session does not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*Session, error) {
	var metadataJSON string
	sess := &Session{Key: key}

	err := s.db.QueryRowContext(ctx,
		`SELECT metadata, created_at, updated_at FROM sessions WHERE key = ?`, key,
	).Scan(&metadataJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if err := json.Unmarshal([]byte(metadataJSON), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("decoding session metadata: %w", err)
	}

	msgs, err := s.GetMessages(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	sess.saved = len(msgs)

	return sess, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	metadata := sess.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, metadata, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.Key, string(metadataJSON), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// TouchSession updates a session's updated_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, key string, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`, updatedAt, key)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// AppendMessage persists one history message. A missing ID is filled in.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	var toolsUsed *string
	if len(msg.ToolsUsed) > 0 {
		encoded, err := json.Marshal(msg.ToolsUsed)
		if err != nil {
			return fmt.Errorf("encoding tools_used: %w", err)
		}
		v := string(encoded)
		toolsUsed = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_messages (id, session_key, role, content, tools_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, key, msg.Role, msg.Content, toolsUsed, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessages returns up to limit of the most recent messages for a session,
// oldest first. limit <= 0 returns all messages.
func (s *SQLiteStore) GetMessages(ctx context.Context, key string, limit int) ([]Message, error) {
	query := `SELECT id, role, content, tools_used, created_at
		FROM session_messages WHERE session_key = ? ORDER BY created_at DESC, id DESC`
	args := []any{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		var toolsUsed sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolsUsed, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if toolsUsed.Valid {
			if err := json.Unmarshal([]byte(toolsUsed.String), &msg.ToolsUsed); err != nil {
				return nil, fmt.Errorf("decoding tools_used: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessages removes all messages for a session.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	return nil
}

// ArchiveMessages copies messages into the archive table.
func (s *SQLiteStore) ArchiveMessages(ctx context.Context, key string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, msg := range msgs {
		var toolsUsed *string
		if len(msg.ToolsUsed) > 0 {
			encoded, err := json.Marshal(msg.ToolsUsed)
			if err != nil {
				return fmt.Errorf("encoding tools_used: %w", err)
			}
			v := string(encoded)
			toolsUsed = &v
		}
		id := msg.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO archived_messages
				(id, session_key, role, content, tools_used, created_at, archived_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, key, msg.Role, msg.Content, toolsUsed, msg.CreatedAt, now,
		); err != nil {
			return fmt.Errorf("archiving message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive transaction: %w", err)
	}

	s.logger.Debug("messages archived", "session_key", key, "count", len(msgs))
	return nil
}
