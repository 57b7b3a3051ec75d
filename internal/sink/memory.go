package sink

import (
	"sync"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// MemorySink is an in-process Sink used for tests and for deployments
// without a store DSN configured. It keeps the same per-session ordering
// guarantee as PostgresSink without any I/O.
type MemorySink struct {
	mu sync.Mutex

	sessions    map[string]session.Metrics
	states      map[string]session.State
	transitions map[string][]session.Transition
	turns       map[string][]session.Turn
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		sessions:    make(map[string]session.Metrics),
		states:      make(map[string]session.State),
		transitions: make(map[string][]session.Transition),
		turns:       make(map[string][]session.Turn),
	}
}

// UpsertSession implements Sink.
func (m *MemorySink) UpsertSession(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Metrics()
	m.states[s.ID] = s.State()
}

// OnTransition implements session.Observer.
func (m *MemorySink) OnTransition(s *session.Session, tr session.Transition) {
	m.UpsertSession(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[s.ID] = append(m.transitions[s.ID], tr)
}

// OnStopPlayback implements session.Observer.
func (m *MemorySink) OnStopPlayback(sessionID string) {}

// OnTurn implements session.Observer.
func (m *MemorySink) OnTurn(s *session.Session, turn session.Turn) {
	m.mu.Lock()
	m.turns[s.ID] = append(m.turns[s.ID], turn)
	m.mu.Unlock()
	m.UpsertSession(s)
}

// Close implements Sink. MemorySink holds no resources to release.
func (m *MemorySink) Close() {}

// Transitions returns the recorded transitions for sessionID, for test
// assertions.
func (m *MemorySink) Transitions(sessionID string) []session.Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Transition, len(m.transitions[sessionID]))
	copy(out, m.transitions[sessionID])
	return out
}

// Turns returns the recorded turns for sessionID, for test assertions.
func (m *MemorySink) Turns(sessionID string) []session.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Turn, len(m.turns[sessionID]))
	copy(out, m.turns[sessionID])
	return out
}

// State returns the last upserted state for sessionID.
func (m *MemorySink) State(sessionID string) session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[sessionID]
}

var _ Sink = (*MemorySink)(nil)
