package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"clinical-simulator/pkg"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store persists sessions for at most ttl after their last write.
type Store interface {
	Put(ctx context.Context, s *pkg.Session) error
	Get(ctx context.Context, id string) (*pkg.Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type memoryEntry struct {
	session   *pkg.Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in a map.  Expired entries are dropped on read
// and swept on write, at most once per half TTL.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Put(ctx context.Context, s *pkg.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		m.sweep(now)
		m.nextSweep = now.Add(m.ttl / 2)
	}
	m.sessions[s.ID] = memoryEntry{session: s.Clone(), expiresAt: now.Add(m.ttl)}
	return nil
}

// sweep deletes every expired entry.  The caller holds the write lock.
func (m *MemoryStore) sweep(now time.Time) {
	for id, entry := range m.sessions {
		if !now.Before(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*pkg.Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		// re-check: a concurrent Put may have refreshed it
		if cur, ok := m.sessions[id]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.session.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
