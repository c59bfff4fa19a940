package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-simulator/pkg"
)

// Manager owns the session lifecycle: start, read, update, advance, end.
// Writes to one session are serialised; different sessions never block
// each other.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sessionLock),
	}
}

// SetClock replaces the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Start creates a fresh learn-phase session for caseID.  If previousID names
// an existing session it is removed first.
func (m *Manager) Start(ctx context.Context, caseID, previousID string) (*pkg.Session, error) {
	if previousID != "" {
		if err := m.End(ctx, previousID); err != nil {
			return nil, err
		}
	}
	now := m.now()
	s := &pkg.Session{
		ID:           uuid.NewString(),
		CaseID:       caseID,
		Phase:        pkg.PhaseLearn,
		StartTime:    now,
		UpdatedAt:    now,
		Interactions: []pkg.Interaction{},
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(ctx context.Context, id string) (*pkg.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// Update loads the session, applies fn and stores the result, holding the
// session's lock throughout.  If fn returns an error nothing is stored.
func (m *Manager) Update(ctx context.Context, id string, fn func(s *pkg.Session) error) (*pkg.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	unlock := m.lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Advance switches the session to the diagnosis phase.  It is idempotent.
func (m *Manager) Advance(ctx context.Context, id string) (*pkg.Session, error) {
	return m.Update(ctx, id, func(s *pkg.Session) error {
		s.Advance()
		s.UpdatedAt = m.now()
		return nil
	})
}

// End deletes the session.  Ending an unknown session is not an error.
func (m *Manager) End(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()
	return m.store.Delete(ctx, id)
}

// lock acquires the per-session mutex and returns its release func.  Lock
// entries are reference counted so the map does not grow without bound.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
