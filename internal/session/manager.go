package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager holds at most one current session. Starting a session cancels and
// awaits the previous one first, so two tasks never overlap.
type Manager struct {
	mu      sync.Mutex
	current *Session
	base    context.Context
	close   context.CancelFunc
	logger  *zap.Logger
}

// NewManager creates a Manager. Session tasks derive from ctx, never from the
// context of the call that started them.
func NewManager(ctx context.Context, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(ctx)
	return &Manager{base: base, close: cancel, logger: logger}
}

// Start replaces the current session with a new one for user running run.
func (m *Manager) Start(user string, run RunFunc) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.logger.Debug("Stopping previous session",
			zap.String("session_id", m.current.ID),
			zap.String("user", m.current.User))
		m.current.stop()
		m.current = nil
	}

	ctx, cancel := context.WithCancel(m.base)
	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		run(ctx, user)
	}()

	m.current = s
	m.logger.Info("Session started", zap.String("session_id", s.ID), zap.String("user", user))
	return s
}

// Stop ends the current session if it belongs to user, or any session when
// user is empty. It reports whether a session was stopped.
func (m *Manager) Stop(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || (user != "" && m.current.User != user) {
		return false
	}

	m.current.stop()
	m.logger.Info("Session stopped", zap.String("session_id", m.current.ID), zap.String("user", m.current.User))
	m.current = nil
	return true
}

// Current returns the current session or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close stops the current session and refuses to run new tasks.
func (m *Manager) Close() {
	m.Stop("")
	m.close()
}
