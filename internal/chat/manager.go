package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager owns all live sessions. Sessions are created on first inbound
// message and evicted after disconnect plus an idle timeout.
// All exported methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration

	// onCount, when set, observes the live session count: +1 per creation,
	// -1 per removal or eviction.
	onCount func(delta int)
}

// NewManager creates a Manager that evicts sessions idle for longer than
// idleTimeout. A zero idleTimeout disables eviction.
func NewManager(idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// OnCount registers a callback observing session count changes: +1 per
// creation, -1 per removal or eviction. Set it before serving traffic; it is
// invoked outside the manager lock.
func (m *Manager) OnCount(fn func(delta int)) {
	m.onCount = fn
}

func (m *Manager) countChanged(delta int) {
	if m.onCount != nil {
		m.onCount(delta)
	}
}

// GetOrCreate returns the session with the given id, creating it on first
// use. The second return value reports whether the session already existed.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, true
	}
	s := NewSession(id)
	m.sessions[id] = s
	m.mu.Unlock()
	m.countChanged(1)
	slog.Info("session created", "session_id", id)
	return s, false
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Remove cancels and drops the session with the given id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		s.Cancel()
		m.countChanged(-1)
		slog.Info("session removed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IDs returns the ids of all live sessions.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StartEviction launches the idle-eviction loop. It stops when ctx is
// cancelled. No-op if the idle timeout is zero.
func (m *Manager) StartEviction(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	interval := m.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

// evictIdle removes sessions whose last activity is older than the idle
// timeout. Sessions with a turn in flight are skipped.
func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.TurnActive() {
			continue
		}
		if s.LastActive().Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Cancel()
		m.countChanged(-1)
		slog.Info("session evicted after idle timeout",
			"session_id", s.ID,
			"idle_timeout", m.idleTimeout,
		)
	}
}
