package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/convo-engine/internal/observe"
)

// EventType identifies one of the events the FSM consumes.
type EventType string

const (
	EventVADStarted          EventType = "vad_started"
	EventVADEnded            EventType = "vad_ended"
	EventUserAudio           EventType = "user_audio"
	EventUserInterrupt       EventType = "user_interrupt"
	EventTranscriptionFinal  EventType = "transcription_final"
	EventLLMResponseComplete EventType = "llm_response_complete"
	EventTTSStarted          EventType = "tts_started"
	EventTTSComplete         EventType = "tts_complete"
	EventError               EventType = "error"
	EventEnd                 EventType = "end"

	eventInterruptDwell EventType = "_interrupt_dwell"
	eventErrorRecover   EventType = "_error_recover"
)

// Event carries the payload for one FSM event. Only the fields relevant to
// the event's Type are populated.
type Event struct {
	Type            EventType
	Frame           []byte
	Text            string
	Citations       []string
	Handle          string
	ErrKind         string
	AudioDurationMs int64
}

var legalTransitions = map[State]map[State]bool{
	StateIdle:         {StateListening: true, StateEnded: true},
	StateListening:    {StateTranscribing: true, StateIdle: true, StateInterrupted: true, StateEnded: true},
	StateTranscribing: {StateInterpreting: true, StateListening: true, StateInterrupted: true, StateError: true, StateEnded: true},
	StateInterpreting: {StateAnswering: true, StateInterrupted: true, StateError: true, StateEnded: true},
	StateAnswering:    {StateSpeaking: true, StateInterrupted: true, StateError: true, StateEnded: true},
	StateSpeaking:     {StateListening: true, StateIdle: true, StateInterrupted: true, StateError: true, StateEnded: true},
	StateInterrupted:  {StateListening: true, StateIdle: true, StateEnded: true},
	StateError:        {StateIdle: true, StateListening: true, StateEnded: true},
}

const (
	errorRecoverDelay   = 2 * time.Second
	interruptDwellDelay = 200 * time.Millisecond
)

// Driver is the orchestrator-facing half of the FSM: it is invoked whenever
// a turn needs to advance into a new service call. Implementations must
// return promptly; the actual transcribe/reason/synthesize calls run on
// goroutines owned by the driver, which reports completion by posting events
// back into the FSM.
type Driver interface {
	BeginTranscription(s *Session)
	BeginReasoning(s *Session)
	// BeginAnswering is invoked when the session enters ANSWERING. The
	// driver generates a stream handle, posts EventTTSStarted with that
	// handle, and begins the synthesize call tagged with it.
	BeginAnswering(s *Session)
	StopSynthesis(handle string)
}

// Observer receives best-effort notifications of FSM activity. Transport
// uses it to push state_change/stop-playback frames to the client; Sink
// uses it to persist transitions and completed turns.
type Observer interface {
	OnTransition(s *Session, tr Transition)
	OnStopPlayback(sessionID string)
	OnTurn(s *Session, turn Turn)
}

// FSM is the single execution context owning one Session's state. All
// mutation happens inside Run's goroutine; external callers only ever
// enqueue events via Post.
type FSM struct {
	session  *Session
	driver   Driver
	observer Observer
	logger   observe.Logger
	metrics  *observe.Metrics

	softCapBytes    int
	maxContextTurns int

	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures an FSM at construction.
type Option func(*FSM)

// WithSoftCapBytes overrides the inbound audio buffer's drop-oldest cap.
func WithSoftCapBytes(n int) Option {
	return func(f *FSM) { f.softCapBytes = n }
}

// WithFSMMetrics attaches the process-wide instrument set so the FSM can
// record turn/interrupt/error/backpressure counters and turn latency.
func WithFSMMetrics(m *observe.Metrics) Option {
	return func(f *FSM) { f.metrics = m }
}

const defaultSoftCapBytes = 16000 * 2 * 30 // 30s of 16kHz mono 16-bit PCM

// NewFSM constructs an FSM for sess. driver and observer may be nil for
// tests that only exercise pure transition logic.
func NewFSM(sess *Session, driver Driver, observer Observer, logger observe.Logger, opts ...Option) *FSM {
	if logger == nil {
		logger = observe.NoOpLogger{}
	}
	f := &FSM{
		session:         sess,
		driver:          driver,
		observer:        observer,
		logger:          logger,
		softCapBytes:    defaultSoftCapBytes,
		maxContextTurns: 5,
		events:          make(chan Event, 256),
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Session returns the FSM's owned session.
func (f *FSM) Session() *Session { return f.session }

// Post enqueues an event for processing by Run's goroutine. Safe to call
// from any goroutine.
func (f *FSM) Post(ev Event) {
	select {
	case f.events <- ev:
	case <-f.closed:
	}
}

// Run processes events until ctx is cancelled or the session reaches ENDED.
// It must be invoked exactly once, in its own goroutine, per session.
func (f *FSM) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closed:
			return
		case ev := <-f.events:
			f.handle(ev)
		}
	}
}

func (f *FSM) handle(ev Event) {
	switch ev.Type {
	case EventUserAudio:
		f.onUserAudio(ev)
	case EventVADStarted:
		f.onVADStarted(ev)
	case EventVADEnded:
		f.onVADEnded(ev)
	case EventUserInterrupt:
		f.onInterrupt(ev)
	case EventTranscriptionFinal:
		f.onTranscriptionFinal(ev)
	case EventLLMResponseComplete:
		f.onLLMResponseComplete(ev)
	case EventTTSStarted:
		f.onTTSStarted(ev)
	case EventTTSComplete:
		f.onTTSComplete(ev)
	case EventError:
		f.onError(ev)
	case EventEnd:
		f.onEnd(ev)
	case eventInterruptDwell:
		f.onInterruptDwell()
	case eventErrorRecover:
		f.onErrorRecover()
	default:
		f.logger.Warn("unknown fsm event", "session", f.session.ID, "type", ev.Type)
	}
}

// transition validates and performs a state change. It returns false
// (logging a warning) if the transition is not in the legal table.
func (f *FSM) transition(to State, cause EventType, meta map[string]string) bool {
	f.session.mu.Lock()
	cur := f.session.state
	if cur == StateEnded {
		f.session.mu.Unlock()
		return false
	}
	if !legalTransitions[cur][to] {
		f.session.mu.Unlock()
		f.logger.Warn("invalid transition attempt", "session", f.session.ID, "from", cur, "to", to, "event", cause)
		return false
	}
	now := time.Now()
	tr := Transition{From: cur, To: to, Event: cause, Metadata: meta, Timestamp: now}
	f.session.state = to
	f.session.transitions = append(f.session.transitions, tr)
	f.session.lastActivity = now
	f.session.mu.Unlock()

	if f.observer != nil {
		f.observer.OnTransition(f.session, tr)
	}
	return true
}

func (f *FSM) onUserAudio(ev Event) {
	if len(ev.Frame) == 0 {
		return
	}
	if len(ev.Frame)%2 != 0 {
		f.logger.Warn("dropping malformed audio frame", "session", f.session.ID, "len", len(ev.Frame))
		return
	}

	if f.session.State() == StateIdle {
		f.transition(StateListening, EventUserAudio, nil)
	}

	f.session.mu.Lock()
	cur := f.session.state
	if cur == StateListening || cur == StateTranscribing {
		f.session.audioBuffer = append(f.session.audioBuffer, ev.Frame...)
		if len(f.session.audioBuffer) > f.softCapBytes {
			drop := len(f.session.audioBuffer) - f.softCapBytes
			f.session.audioBuffer = f.session.audioBuffer[drop:]
			f.session.metrics.DroppedFrames++
			if f.metrics != nil {
				f.metrics.FramesDropped.Add(context.Background(), 1)
			}
		}
	}
	f.session.lastActivity = time.Now()
	f.session.mu.Unlock()
}

func (f *FSM) onVADStarted(ev Event) {
	switch f.session.State() {
	case StateAnswering, StateSpeaking:
		f.doInterrupt()
	case StateIdle:
		f.transition(StateListening, EventVADStarted, nil)
	}
}

func (f *FSM) onVADEnded(ev Event) {
	if f.session.State() != StateListening {
		return
	}
	if len(f.session.AudioBuffer()) == 0 {
		f.transition(StateIdle, EventVADEnded, nil)
		return
	}
	f.session.mu.Lock()
	f.session.turnStartedAt = time.Now()
	f.session.mu.Unlock()
	if f.transition(StateTranscribing, EventVADEnded, nil) && f.driver != nil {
		f.driver.BeginTranscription(f.session)
	}
}

func (f *FSM) onInterrupt(ev Event) {
	cur := f.session.State()
	if cur == StateAnswering || cur == StateSpeaking {
		f.doInterrupt()
		return
	}
	f.logger.Debug("interrupt ignored outside answering/speaking", "session", f.session.ID, "state", cur)
}

func (f *FSM) doInterrupt() {
	pre := f.session.State()
	handle := f.session.TTSStreamHandle()
	if !f.transition(StateInterrupted, EventUserInterrupt, map[string]string{"pre_state": string(pre)}) {
		return
	}
	f.session.mu.Lock()
	f.session.metrics.InterruptCount++
	f.session.ttsStreamHandle = ""
	f.session.transcriptSlot = ""
	f.session.responseSlot = ""
	f.session.responseSlotCite = nil
	f.session.mu.Unlock()
	if f.metrics != nil {
		f.metrics.Interrupts.Add(context.Background(), 1)
	}

	// handle may still be "" here if the interrupt is processed before the
	// queued tts_started event (§4.3 tie-break): BeginAnswering has already
	// recorded its own handle synchronously, so the driver stops whatever it
	// last started rather than relying on this (possibly stale) value.
	if f.driver != nil {
		f.driver.StopSynthesis(handle)
	}
	if f.observer != nil {
		f.observer.OnStopPlayback(f.session.ID)
	}
	f.armInterruptDwell()
}

func (f *FSM) onInterruptDwell() {
	if f.session.State() == StateInterrupted {
		f.transition(StateListening, eventInterruptDwell, nil)
	}
}

func (f *FSM) armInterruptDwell() {
	go func() {
		timer := time.NewTimer(interruptDwellDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			f.Post(Event{Type: eventInterruptDwell})
		case <-f.closed:
		}
	}()
}

func (f *FSM) onTranscriptionFinal(ev Event) {
	if f.session.State() != StateTranscribing {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		f.session.mu.Lock()
		f.session.audioBuffer = nil
		f.session.transcriptSlot = ""
		f.session.mu.Unlock()
		f.transition(StateListening, EventTranscriptionFinal, nil)
		return
	}
	f.session.mu.Lock()
	f.session.transcriptSlot = text
	f.session.audioBuffer = nil
	f.session.mu.Unlock()
	if f.transition(StateInterpreting, EventTranscriptionFinal, nil) && f.driver != nil {
		f.driver.BeginReasoning(f.session)
	}
}

func (f *FSM) onLLMResponseComplete(ev Event) {
	if f.session.State() != StateInterpreting {
		return
	}
	f.session.mu.Lock()
	f.session.responseSlot = ev.Text
	f.session.responseSlotCite = ev.Citations
	f.session.mu.Unlock()
	if f.transition(StateAnswering, EventLLMResponseComplete, nil) && f.driver != nil {
		f.driver.BeginAnswering(f.session)
	}
}

func (f *FSM) onTTSStarted(ev Event) {
	if f.session.State() != StateAnswering {
		return
	}
	f.session.mu.Lock()
	f.session.ttsStreamHandle = ev.Handle
	f.session.mu.Unlock()
	f.transition(StateSpeaking, EventTTSStarted, map[string]string{"handle": ev.Handle})
}

func (f *FSM) onTTSComplete(ev Event) {
	if f.session.State() != StateSpeaking {
		return
	}
	f.session.mu.Lock()
	latency := time.Since(f.session.turnStartedAt)
	turn := Turn{
		ID:              uuid.NewString(),
		UserText:        f.session.transcriptSlot,
		AssistantText:   f.session.responseSlot,
		Citations:       f.session.responseSlotCite,
		AudioDurationMs: ev.AudioDurationMs,
		LatencyMs:       latency.Milliseconds(),
		CompletedAt:     time.Now(),
	}
	f.session.history = append(f.session.history, turn)
	f.session.metrics.TotalTurns++
	f.session.metrics.CumulativeLatency += latency
	f.session.transcriptSlot = ""
	f.session.responseSlot = ""
	f.session.responseSlotCite = nil
	f.session.ttsStreamHandle = ""
	f.session.mu.Unlock()

	if f.metrics != nil {
		f.metrics.TurnsCompleted.Add(context.Background(), 1)
		f.metrics.TurnLatency.Record(context.Background(), latency.Seconds())
	}

	if f.transition(StateIdle, EventTTSComplete, nil) && f.observer != nil {
		f.observer.OnTurn(f.session, turn)
	}
}

func (f *FSM) onError(ev Event) {
	cur := f.session.State()
	if !f.transition(StateError, EventError, map[string]string{"kind": ev.ErrKind}) {
		f.logger.Warn("error event in state with no ERROR transition", "session", f.session.ID, "state", cur, "kind", ev.ErrKind)
		return
	}
	f.session.mu.Lock()
	f.session.metrics.ErrorCount++
	f.session.audioBuffer = nil
	f.session.transcriptSlot = ""
	f.session.responseSlot = ""
	f.session.responseSlotCite = nil
	f.session.ttsStreamHandle = ""
	f.session.mu.Unlock()
	if f.metrics != nil {
		f.metrics.TurnsErrored.Add(context.Background(), 1)
	}
	f.armErrorRecover()
}

func (f *FSM) armErrorRecover() {
	go func() {
		timer := time.NewTimer(errorRecoverDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			f.Post(Event{Type: eventErrorRecover})
		case <-f.closed:
		}
	}()
}

func (f *FSM) onErrorRecover() {
	if f.session.State() == StateError {
		f.transition(StateIdle, eventErrorRecover, nil)
	}
}

func (f *FSM) onEnd(ev Event) {
	now := time.Now()
	if f.transition(StateEnded, EventEnd, nil) {
		f.session.mu.Lock()
		f.session.metrics.EndedAt = &now
		f.session.mu.Unlock()
		f.closeOnce.Do(func() { close(f.closed) })
	}
}

// MaxContextTurns returns how many trailing turns Orchestrator should send
// to the reasoner as context.
func (f *FSM) MaxContextTurns() int { return f.maxContextTurns }
