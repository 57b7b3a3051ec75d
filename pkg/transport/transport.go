// Package transport implements the per-session duplex connection that
// multiplexes binary audio frames and JSON control messages over a single
// websocket, per §4.4.
package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/pkg/session"
	"github.com/lokutor-ai/convo-engine/pkg/vad"
)

// DefaultReconnectGrace is how long a session survives after its transport
// disconnects before the session is torn down.
const DefaultReconnectGrace = 5 * time.Second

// outboundQueueSize bounds the writer goroutine's buffered channel so a slow
// client cannot stall the FSM event delivery that feeds it.
const outboundQueueSize = 256

// Transport owns every active per-session websocket connection. It
// implements orchestrator.AudioSink and session.Observer so the same value
// both pushes synthesized audio out and broadcasts state changes.
type Transport struct {
	manager *session.Manager
	logger  observe.Logger
	metrics *observe.Metrics

	vadThreshold     float64
	vadSilenceWindow time.Duration
	reconnectGrace   time.Duration

	mu      sync.Mutex
	conns   map[string]*connection
	pending map[string]*time.Timer
}

// Option configures a Transport at construction.
type Option func(*Transport)

func WithReconnectGrace(d time.Duration) Option {
	return func(t *Transport) { t.reconnectGrace = d }
}

func WithVADDefaults(threshold float64, silenceWindow time.Duration) Option {
	return func(t *Transport) {
		t.vadThreshold = threshold
		t.vadSilenceWindow = silenceWindow
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// New constructs a Transport bound to manager. logger may be nil.
func New(manager *session.Manager, logger observe.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = observe.NoOpLogger{}
	}
	t := &Transport{
		manager:          manager,
		logger:           logger,
		vadThreshold:     vad.DefaultThreshold,
		vadSilenceWindow: vad.DefaultSilenceWindow,
		reconnectGrace:   DefaultReconnectGrace,
		conns:            make(map[string]*connection),
		pending:          make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BindManager attaches the SessionManager a Transport dispatches lookups
// against. It exists because a Transport must be constructed before the
// Orchestrator it feeds (as an AudioSink) can build the DriverFactory a
// SessionManager needs at construction time, so the manager is not always
// available at New.
func (t *Transport) BindManager(manager *session.Manager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manager = manager
}

// HandleWebSocket upgrades the HTTP request to a websocket and binds it to
// the session named by the final path segment, rejecting the connection if
// no such session exists.
func (t *Transport) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromPath(r.URL.Path)
	sess, fsm, ok := t.manager.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket accept failed", "session", sessionID, "error", err)
		return
	}

	t.cancelPendingDeletion(sessionID)

	conn := newConnection(sessionID, sess, fsm, wsConn, t.vadThreshold, t.vadSilenceWindow, t.logger)

	t.mu.Lock()
	t.conns[sessionID] = conn
	t.mu.Unlock()

	sess.SetConnected(true)
	conn.sendReady()

	conn.run(r.Context())

	t.mu.Lock()
	if t.conns[sessionID] == conn {
		delete(t.conns, sessionID)
	}
	t.mu.Unlock()

	sess.SetConnected(false)
	t.scheduleDeletion(sessionID)
}

func sessionIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/ws/")
	return strings.Trim(trimmed, "/")
}

func (t *Transport) cancelPendingDeletion(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.pending[sessionID]; ok {
		timer.Stop()
		delete(t.pending, sessionID)
	}
}

func (t *Transport) scheduleDeletion(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[sessionID] = time.AfterFunc(t.reconnectGrace, func() {
		t.mu.Lock()
		delete(t.pending, sessionID)
		_, stillConnected := t.conns[sessionID]
		t.mu.Unlock()
		if stillConnected {
			return
		}
		t.manager.Delete(sessionID)
	})
}

// SendAudio implements orchestrator.AudioSink. A nil session connection is a
// silent no-op since the client may have disconnected mid-synthesis.
func (t *Transport) SendAudio(sessionID string, chunk []byte, isFinal bool) error {
	conn := t.connFor(sessionID)
	if conn == nil {
		return nil
	}
	return conn.sendAudio(chunk, isFinal)
}

// OnTransition implements session.Observer. It broadcasts a state_change
// frame, plus a synthetic llm_thinking frame the moment the session enters
// INTERPRETING.
func (t *Transport) OnTransition(s *session.Session, tr session.Transition) {
	conn := t.connFor(s.ID)
	if conn == nil {
		return
	}
	conn.sendStateChange(tr)
	if tr.To == session.StateInterpreting {
		conn.sendThinking()
	}
}

// OnStopPlayback implements session.Observer.
func (t *Transport) OnStopPlayback(sessionID string) {
	conn := t.connFor(sessionID)
	if conn == nil {
		return
	}
	conn.sendStopTTS()
}

// OnTurn implements session.Observer. Completed turns are surfaced through
// ControlSurface's history endpoint, not the live transport.
func (t *Transport) OnTurn(s *session.Session, turn session.Turn) {}

// Close implements session.TransportCloser. It forcibly tears down
// sessionID's live websocket connection, if any, and cancels any pending
// reconnect-grace deletion timer, so Manager.Delete's "tears down the
// transport" contract (§4.6) holds even while a client is connected.
func (t *Transport) Close(sessionID string) {
	t.cancelPendingDeletion(sessionID)

	t.mu.Lock()
	conn, ok := t.conns[sessionID]
	if ok {
		delete(t.conns, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	conn.ws.Close(websocket.StatusNormalClosure, "session deleted")
}

func (t *Transport) connFor(sessionID string) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[sessionID]
}

var (
	_ session.Observer        = (*Transport)(nil)
	_ session.TransportCloser = (*Transport)(nil)
)
