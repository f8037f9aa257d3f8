// ABOUTME: Manager caches live sessions and drives persistence through the Store
// ABOUTME: Provides GetOrCreate/Save/Invalidate/Reset plus detached archival

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager hands out sessions by key, caching them in memory so repeated
// turns on the same conversation do not re-read history. The agent loop is
// the single writer of any one session; the mutex only guards the cache map.
type Manager struct {
	store  Store
	mu     sync.Mutex
	cache  map[string]*Session
	logger *slog.Logger
}

// NewManager creates a session manager. Pass nil logger for default.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cache:  make(map[string]*Session),
		logger: logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the session for key, loading it from the store or
// creating a fresh one if it does not exist yet.
func (m *Manager) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.store.GetSession(ctx, key)
	if errors.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		sess = &Session{
			Key:       key,
			Metadata:  map[string]string{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("creating session %q: %w", key, err)
		}
		m.logger.Debug("session created", "session_key", key)
	} else if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", key, err)
	}

	m.mu.Lock()
	// Another goroutine may have won the race; prefer its copy.
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.cache[key] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get returns the persisted session for key without creating one.
// Returns ErrNotFound if it does not exist.
func (m *Manager) Get(ctx context.Context, key string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()
	return m.store.GetSession(ctx, key)
}

// History reads persisted messages for key straight from the store,
// bypassing the cache. The loop worker owns the live session; readers on
// other goroutines must use this instead of Get to avoid racing its
// appends. A session with no history yields an empty slice.
func (m *Manager) History(ctx context.Context, key string, limit int) ([]Message, error) {
	return m.store.GetMessages(ctx, key, limit)
}

// Save persists messages appended since the last Save and bumps the
// session's updated_at.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	for i := sess.saved; i < len(sess.Messages); i++ {
		if err := m.store.AppendMessage(ctx, sess.Key, &sess.Messages[i]); err != nil {
			return fmt.Errorf("saving session %q: %w", sess.Key, err)
		}
		sess.saved = i + 1
	}

	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.TouchSession(ctx, sess.Key, sess.UpdatedAt); err != nil {
		return fmt.Errorf("saving session %q: %w", sess.Key, err)
	}
	return nil
}

// Invalidate drops the cached copy of a session. The next GetOrCreate
// re-reads from the store.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

// Reset deletes all persisted messages for a session and drops it from the
// cache. The session row itself survives so metadata is kept.
func (m *Manager) Reset(ctx context.Context, key string) error {
	if err := m.store.DeleteMessages(ctx, key); err != nil {
		return fmt.Errorf("resetting session %q: %w", key, err)
	}
	m.Invalidate(key)
	return nil
}

// Archive copies messages into the archive table. Intended to be called
// from a detached goroutine; failures are the caller's to log.
func (m *Manager) Archive(ctx context.Context, key string, msgs []Message) error {
	return m.store.ArchiveMessages(ctx, key, msgs)
}
