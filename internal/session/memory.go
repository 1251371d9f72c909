// ABOUTME: In-memory session store driver, the default for single-process deployments
// ABOUTME: Sessions live for process lifetime; checked-out copies never alias stored state

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map for process lifetime.
type MemoryStore struct {
	locks  *keyedMutex
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates the in-memory driver.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryStore{
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "session-store", "driver", "memory"),
		sessions: make(map[string]*Session),
	}
}

// Checkout acquires the key lock and returns a copy of the session,
// creating it lazily.
func (m *MemoryStore) Checkout(_ context.Context, tenantID, userID string) (*Session, func(), error) {
	key := Key(tenantID, userID)
	m.locks.Lock(key)

	m.mu.RLock()
	stored, ok := m.sessions[key]
	m.mu.RUnlock()

	if !ok {
		s := newSession(tenantID, userID)
		m.logger.Debug("session created", "tenant_id", tenantID, "user_id", userID)
		return s, func() { m.locks.Unlock(key) }, nil
	}

	return stored.clone(), func() { m.locks.Unlock(key) }, nil
}

// Save stores the session. The caller must hold the key lock via Checkout.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	s.Version++
	s.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.sessions[s.Key()] = s.clone()
	m.mu.Unlock()

	return nil
}

// Reset drops the session so the next message starts fresh.
func (m *MemoryStore) Reset(_ context.Context, tenantID, userID string) error {
	key := Key(tenantID, userID)
	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	m.logger.Info("session reset", "tenant_id", tenantID, "user_id", userID)
	return nil
}

// Close is a no-op for the memory driver.
func (m *MemoryStore) Close() error {
	return nil
}
