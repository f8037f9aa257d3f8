// ABOUTME: Session types and store interface for conversation history persistence
// ABOUTME: A session is the append-only message history behind one "channel:chat_id" key

package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session does not exist
var ErrNotFound = errors.New("session not found")

// Role constants for history messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged entry in a conversation history.
type Message struct {
	ID        string
	Role      string
	Content   string
	ToolsUsed []string // tools invoked while producing this message, if any
	CreatedAt time.Time
}

// Session is the persisted history for one conversation key
// ("channel:chat_id"). Messages are append-only within a turn; the manager
// persists appended messages on Save.
type Session struct {
	Key       string
	Messages  []Message
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time

	// saved is the count of leading Messages already persisted.
	saved int
}

// AddMessage appends a role-tagged message to the in-memory history.
// The message is persisted on the next Manager.Save call.
func (s *Session) AddMessage(role, content string, toolsUsed ...string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		ToolsUsed: toolsUsed,
		CreatedAt: time.Now().UTC(),
	})
}

// GetHistory returns up to maxMessages of the most recent history, oldest
// first. maxMessages <= 0 returns the full history.
func (s *Session) GetHistory(maxMessages int) []Message {
	if maxMessages <= 0 || len(s.Messages) <= maxMessages {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-maxMessages:]
}

// Store defines the interface for session persistence
type Store interface {
	GetSession(ctx context.Context, key string) (*Session, error)
	CreateSession(ctx context.Context, sess *Session) error
	TouchSession(ctx context.Context, key string, updatedAt time.Time) error

	AppendMessage(ctx context.Context, key string, msg *Message) error
	GetMessages(ctx context.Context, key string, limit int) ([]Message, error)
	DeleteMessages(ctx context.Context, key string) error

	// ArchiveMessages copies messages into the archive table. Used by the
	// detached consolidation task triggered on session reset.
	ArchiveMessages(ctx context.Context, key string, msgs []Message) error

	Close() error
}
