// Package session keeps the in-memory table of editing sessions and expires
// idle ones.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/pixeltune/internal/editor"
	"github.com/dunamismax/pixeltune/internal/id"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrLimit    = errors.New("session limit reached")
)

type Config struct {
	TTL         time.Duration
	MaxSessions int
	Editor      []editor.Option
}

type Session struct {
	ID         string
	Controller *editor.Controller
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Manager struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create() (*Session, error) {
	controller, err := editor.New(m.cfg.Editor...)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:         id.New(),
		Controller: controller,
		CreatedAt:  now,
		lastSeen:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrLimit
	}
	m.sessions[s.ID] = s
	return s, nil
}

// Get returns the session and marks it as used.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed. A zero TTL disables expiry.
func (m *Manager) Sweep() int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for sessionID, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(m.sessions, sessionID)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				m.logger.Printf("expired sessions=%d remaining=%d", removed, m.Len())
			}
		}
	}
}
