package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"vibe-report/pkg/flow"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager keeps the live sessions of a kiosk server.
type Manager struct {
	opts   Options
	idle   time.Duration
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

type ManagerOption func(*Manager)

// WithIdleTimeout lets Sweep close sessions untouched for d. Zero keeps
// them until removed.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idle = d }
}

func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(opts Options, mopts ...ManagerOption) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		opts:     opts,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		sessions: make(map[string]*entry),
	}
	for _, opt := range mopts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(variant flow.Variant) *Session {
	s := New(uuid.New().String(), variant, m.opts)

	m.mu.Lock()
	m.sessions[s.ID()] = &entry{session: s, lastSeen: m.clock.Now()}
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", s.ID()), zap.String("variant", string(variant)))
	return s
}

// Get returns the session and marks it as seen.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = m.clock.Now()
	return e.session, nil
}

// Remove closes the session and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.session.Close()
	m.logger.Info("session removed", zap.String("session_id", id))
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle longer than the idle timeout and returns how
// many it closed. Sessions that are recording or submitting are kept.
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}

	now := m.clock.Now()
	var stale []*Session
	m.mu.Lock()
	for id, e := range m.sessions {
		if now.Sub(e.lastSeen) < m.idle || e.session.busy() {
			continue
		}
		stale = append(stale, e.session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		m.logger.Info("idle session closed", zap.String("session_id", s.ID()))
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.idle <= 0 || interval <= 0 {
		return
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}
