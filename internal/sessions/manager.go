// Package sessions tracks the live terminal relay sessions of the panel.
package sessions

import (
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// Session ties one client socket to one upstream terminal.
type Session struct {
	ID        string
	SandboxID string
	CreatedAt time.Time

	mu        sync.Mutex
	cols      int
	rows      int
	upstream  io.Closer
	closeOnce sync.Once
	closeErr  error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        string    `json:"id"`
	SandboxID string    `json:"sandboxId"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`
}

// SetGeometry records the last terminal size sent by the client.
func (s *Session) SetGeometry(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

func (s *Session) Geometry() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Session) Info() Info {
	cols, rows := s.Geometry()
	return Info{ID: s.ID, SandboxID: s.SandboxID, Cols: cols, Rows: rows, CreatedAt: s.CreatedAt}
}

// Close releases the upstream terminal. Only the first call reaches it.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.upstream != nil {
			s.closeErr = s.upstream.Close()
		}
	})
	return s.closeErr
}

// Manager handles session lifecycle
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session for sandboxID. upstream is closed when the
// session is deleted or the manager shuts down.
func (m *Manager) Create(sandboxID string, upstream io.Closer) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		SandboxID: sandboxID,
		CreatedAt: time.Now(),
		upstream:  upstream,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes and closes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	return session.Close()
}

// List returns all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return infos
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes all sessions gracefully
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
