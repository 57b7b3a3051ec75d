package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/convo-engine/internal/observe"
)

const (
	// DefaultIdleThreshold is how long a session may sit without activity
	// before cleanup reaps it.
	DefaultIdleThreshold = 3_600_000 * time.Millisecond
	// DefaultCleanupInterval is how often the background task runs.
	DefaultCleanupInterval = 300_000 * time.Millisecond
)

// DriverFactory builds the Driver wired to a freshly created session's FSM.
// Supplied by the orchestrator package so SessionManager never imports it
// directly (avoiding an import cycle between orchestrator and session).
type DriverFactory func(*Session, *FSM) Driver

// TransportCloser tears down whatever live connection a session has open.
// Implemented by package transport's Transport; named here so Manager can
// reach the transport layer on delete without importing it directly
// (avoiding an import cycle between transport and session, same as
// DriverFactory above).
type TransportCloser interface {
	Close(sessionID string)
}

// entry bundles a session with its owning FSM and execution context.
type entry struct {
	fsm    *FSM
	driver Driver
	cancel context.CancelFunc
}

// Manager is the registry of active sessions (§4.5). It is the only
// structure in the conversation engine shared across session execution
// contexts; all of its own state is guarded by mu.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	driverFactory   DriverFactory
	observer        Observer
	logger          observe.Logger
	metrics         *observe.Metrics
	transportCloser TransportCloser

	idleThreshold   time.Duration
	cleanupInterval time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

func WithIdleThreshold(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleThreshold = d }
}

func WithCleanupInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cleanupInterval = d }
}

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// SetObserver replaces the Manager's observer after construction. Useful
// when the observer (typically a FanOutObserver combining Transport and
// Sink) itself needs a reference to the Manager, which would otherwise make
// WithObserver impossible to satisfy at NewManager time.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

func WithLogger(l observe.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(metrics *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTransportCloser attaches the transport layer so Delete can close a
// session's live connection instead of just ending its FSM.
func WithTransportCloser(tc TransportCloser) ManagerOption {
	return func(m *Manager) { m.transportCloser = tc }
}

// SetTransportCloser replaces the Manager's transport closer after
// construction, mirroring SetObserver: the Transport itself is usually
// constructed before the Manager it looks sessions up in, so the two can't
// always reference each other at NewManager time.
func (m *Manager) SetTransportCloser(tc TransportCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transportCloser = tc
}

// NewManager constructs a Manager. driverFactory is invoked once per created
// session to bind its FSM to the orchestrator's turn-driving logic.
func NewManager(driverFactory DriverFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		entries:         make(map[string]*entry),
		driverFactory:   driverFactory,
		logger:          observe.NoOpLogger{},
		idleThreshold:   DefaultIdleThreshold,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a new Session and starts its FSM's execution context.
func (m *Manager) Create(ctx context.Context, tenantID, userID string, cfg Config) *Session {
	sess := New(tenantID, userID, cfg)
	fsm := NewFSM(sess, nil, m.observer, m.logger, WithFSMMetrics(m.metrics))
	var driver Driver
	if m.driverFactory != nil {
		driver = m.driverFactory(sess, fsm)
		fsm.driver = driver
	}

	runCtx, cancel := context.WithCancel(ctx)
	go fsm.Run(runCtx)

	m.mu.Lock()
	m.entries[sess.ID] = &entry{fsm: fsm, driver: driver, cancel: cancel}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.logger.Info("session created", "session_id", sess.ID)
	return sess
}

// Get returns the session and its FSM for id, if it exists.
func (m *Manager) Get(id string) (*Session, *FSM, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.fsm.Session(), e.fsm, true
}

// Delete removes a session, ending its FSM and cancelling its execution
// context. Returns true if a session was removed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.fsm.Post(Event{Type: EventEnd})
	e.cancel()
	if closer, ok := e.driver.(interface{ Close() }); ok {
		closer.Close()
	}
	m.mu.RLock()
	tc := m.transportCloser
	m.mu.RUnlock()
	if tc != nil {
		tc.Close(id)
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	m.logger.Info("session deleted", "session_id", id)
	return true
}

// List returns a snapshot of every session not in ENDED.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.entries))
	for _, e := range m.entries {
		s := e.fsm.Session()
		if s.State() != StateEnded {
			out = append(out, s)
		}
	}
	return out
}

// Cleanup removes sessions whose last activity is older than maxIdle.
// Returns the number removed.
func (m *Manager) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []string
	m.mu.RLock()
	for id, e := range m.entries {
		if e.fsm.Session().LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Delete(id)
	}
	if len(stale) > 0 {
		m.logger.Info("cleanup removed idle sessions", "count", len(stale))
	}
	return len(stale)
}

// RunCleanup starts the background idle-reaper task. It blocks until ctx is
// cancelled or Stop is called, so callers should invoke it in its own
// goroutine.
func (m *Manager) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.Cleanup(m.idleThreshold)
		}
	}
}

// Stop halts the background cleanup task. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}
