// Package session keeps one assignment engine per open configuration surface.
//
// The engine itself is single-threaded; the manager serializes every
// operation on a session behind that session's mutex, so concurrent HTTP
// requests against the same table observe operations one at a time. Closing
// or evicting a session discards its in-memory table; nothing is persisted
// until an explicit submit.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

var (
	// ErrSessionNotFound is returned for unknown, closed or evicted sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the open-session cap is reached.
	ErrTooManySessions = errors.New("too many open sessions, please try again later")
)

// DefaultMaxOpen is used when the manager is created with a non-positive cap.
const DefaultMaxOpen = 200

// Info describes an open session.
type Info struct {
	ID       string    `json:"sessionId"`
	TableKey string    `json:"tableKey"`
	OpenedAt time.Time `json:"openedAt"`
	LastUsed time.Time `json:"lastUsed"`
	Columns  int       `json:"columns"`
}

type session struct {
	mu       sync.Mutex
	id       string
	tableKey string
	engine   *assign.Engine
	openedAt time.Time
	lastUsed time.Time
}

// Manager owns all open sessions.
type Manager struct {
	cat     *catalog.Catalog
	maxOpen int
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates a manager validating against cat.
func NewManager(cat *catalog.Catalog, maxOpen int) *Manager {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}
	return &Manager{
		cat:      cat,
		maxOpen:  maxOpen,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Catalog returns the catalog shared by all sessions.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.cat
}

// Open loads columns into a new engine and registers it under a fresh ID.
func (m *Manager) Open(tableKey string, columns []assign.ColumnInput) (Info, error) {
	id := uuid.New().String()
	engine := assign.NewEngine(m.cat, slog.Default().With("session_id", id, "table", tableKey))
	if err := engine.Load(columns); err != nil {
		return Info{}, err
	}

	now := m.now()
	s := &session{
		id:       id,
		tableKey: tableKey,
		engine:   engine,
		openedAt: now,
		lastUsed: now,
	}

	m.mu.Lock()
	if len(m.sessions) >= m.maxOpen {
		m.mu.Unlock()
		return Info{}, ErrTooManySessions
	}
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	slog.Info("session opened",
		"session_id", id,
		"table", tableKey,
		"columns", len(columns),
		"open_sessions", count,
	)
	return s.info(), nil
}

// Do runs fn against the session's engine while holding the session lock.
func (m *Manager) Do(id string, fn func(e *assign.Engine) error) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = m.now()
	return fn(s.engine)
}

// Info returns the metadata of a session.
func (m *Manager) Info(id string) (Info, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), nil
}

// Close discards a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	slog.Info("session closed", "session_id", id)
	return nil
}

// List returns every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle closes sessions unused for longer than idle and returns how many
// were removed.
func (m *Manager) EvictIdle(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		// A session busy in Do is in use; skip it rather than wait.
		if !s.mu.TryLock() {
			continue
		}
		stale := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (s *session) info() Info {
	return Info{
		ID:       s.id,
		TableKey: s.tableKey,
		OpenedAt: s.openedAt,
		LastUsed: s.lastUsed,
		Columns:  s.engine.Len(),
	}
}
