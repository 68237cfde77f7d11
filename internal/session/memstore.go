package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/wizard/model"
)

// MemoryStore is the in-memory Store. Sessions never touch each other's
// entries, so a single RWMutex over the map is enough.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new session at version 1.
func (m *MemoryStore) Create(_ context.Context, s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return model.Session{}, model.NewConflictError(
			fmt.Sprintf("session %q already exists", s.ID),
		)
	}

	s = s.Clone()
	s.Version = 1
	m.sessions[s.ID] = s
	return s.Clone(), nil
}

// Get returns a copy of the session for id.
func (m *MemoryStore) Get(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return model.Session{}, model.NewSessionNotFoundError()
	}
	return s.Clone(), nil
}

// Update persists s if its version still matches the stored one.
func (m *MemoryStore) Update(_ context.Context, s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.sessions[s.ID]
	if !exists {
		return model.Session{}, model.NewSessionNotFoundError()
	}

	if existing.Version != s.Version {
		return model.Session{}, model.NewSessionStaleError(s.ID, s.Version, existing.Version)
	}

	s = s.Clone()
	s.Version++
	s.UpdatedAt = m.now()
	m.sessions[s.ID] = s
	return s.Clone(), nil
}

// Replace swaps in s regardless of version.
func (m *MemoryStore) Replace(_ context.Context, s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.sessions[s.ID]
	if !exists {
		return model.Session{}, model.NewSessionNotFoundError()
	}

	s = s.Clone()
	s.Version = existing.Version + 1
	s.UpdatedAt = m.now()
	m.sessions[s.ID] = s
	return s.Clone(), nil
}

// Delete removes the session for id.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HealthCheck reports whether the store is usable. The in-memory store is
// always ready once constructed.
func (m *MemoryStore) HealthCheck(_ context.Context) error {
	if m.sessions == nil {
		return fmt.Errorf("session store not initialised")
	}
	return nil
}
