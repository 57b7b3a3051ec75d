// Package session implements the conversation engine's finite state machine,
// its session data model, and the registry that owns session lifetimes.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is one of the nine legal conversation states.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateInterpreting State = "interpreting"
	StateAnswering    State = "answering"
	StateSpeaking     State = "speaking"
	StateInterrupted  State = "interrupted"
	StateError        State = "error"
	StateEnded        State = "ended"
)

// Voice identifies a synthesis voice.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceShimmer Voice = "shimmer"
)

// Tone identifies the conversational register requested for synthesis.
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneFormal       Tone = "formal"
	ToneCasual       Tone = "casual"
)

// Pace identifies the requested speaking rate.
type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceNormal Pace = "normal"
	PaceFast   Pace = "fast"
)

// Energy identifies the requested vocal energy level.
type Energy string

const (
	EnergyLow    Energy = "low"
	EnergyMedium Energy = "medium"
	EnergyHigh   Energy = "high"
)

// Config is the per-session prosody and VAD configuration negotiated at
// creation time. Zero values are replaced by DefaultConfig's defaults.
type Config struct {
	Voice          Voice
	Tone           Tone
	Pace           Pace
	Energy         Energy
	Prosody        map[string]string
	EnableBreaths  bool
	EnableSSML     bool
	VADSensitivity float64
}

// DefaultConfig returns the enumerated defaults from the control surface
// contract.
func DefaultConfig() Config {
	return Config{
		Voice:          VoiceAlloy,
		Tone:           ToneProfessional,
		Pace:           PaceNormal,
		Energy:         EnergyMedium,
		EnableBreaths:  true,
		EnableSSML:     true,
		VADSensitivity: 0.5,
	}
}

// ApplyDefaults fills any zero-valued field of cfg with DefaultConfig's value.
func (cfg Config) ApplyDefaults() Config {
	def := DefaultConfig()
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Tone == "" {
		cfg.Tone = def.Tone
	}
	if cfg.Pace == "" {
		cfg.Pace = def.Pace
	}
	if cfg.Energy == "" {
		cfg.Energy = def.Energy
	}
	if cfg.VADSensitivity == 0 {
		cfg.VADSensitivity = def.VADSensitivity
	}
	return cfg
}

// Turn is one completed question/answer cycle, appended to a session's
// history only on a clean SPEAKING->IDLE transition.
type Turn struct {
	ID              string
	UserText        string
	AssistantText   string
	Citations       []string
	AudioDurationMs int64
	LatencyMs       int64
	CompletedAt     time.Time
}

// Transition is an immutable record of one state change.
type Transition struct {
	From      State
	To        State
	Event     EventType
	Metadata  map[string]string
	Timestamp time.Time
}

// AudioFrame is one chunk of 16-bit signed linear PCM audio.
type AudioFrame struct {
	Data      []byte
	Timestamp time.Time
}

// Metrics accumulates per-session counters and rolling latency.
type Metrics struct {
	TotalTurns        int64
	CumulativeLatency time.Duration
	InterruptCount    int64
	ErrorCount        int64
	DroppedFrames     int64
	CreatedAt         time.Time
	EndedAt           *time.Time
}

// AvgTurnLatencyMs returns the rolling average turn latency in milliseconds.
func (m Metrics) AvgTurnLatencyMs() int64 {
	if m.TotalTurns == 0 {
		return 0
	}
	return m.CumulativeLatency.Milliseconds() / m.TotalTurns
}

// Session is the root entity of the conversation engine. It is mutated only
// by its owning FSM's single execution context; the mutex here exists solely
// to let observers (ControlSurface snapshots, Sink writes) read consistent
// state from other goroutines.
type Session struct {
	mu sync.RWMutex

	ID       string
	TenantID string
	UserID   string
	Config   Config

	state       State
	history     []Turn
	transitions []Transition

	audioBuffer      []byte
	transcriptSlot   string
	responseSlot     string
	responseSlotCite []string
	ttsStreamHandle  string
	turnStartedAt    time.Time

	metrics      Metrics
	lastActivity time.Time
	createdAt    time.Time
	connected    bool
}

// New constructs a Session in state IDLE with a freshly generated id.
func New(tenantID, userID string, cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Config:   cfg.ApplyDefaults(),
		state:    StateIdle,
		metrics: Metrics{
			CreatedAt: now,
		},
		lastActivity: now,
		createdAt:    now,
		connected:    false,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a copy of the completed-turn history.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Transitions returns a copy of the transition log.
func (s *Session) Transitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Metrics returns a copy of the session's metrics.
func (s *Session) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// LastActivity returns the timestamp of the most recent inbound frame or
// transition.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetConnected records the transport's connectedness, used by get/list.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Connected reports whether a transport is currently attached.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// TTSStreamHandle returns the in-flight synthesis handle, if any.
func (s *Session) TTSStreamHandle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttsStreamHandle
}

// TranscriptSlot returns the pending transcription result, if any.
func (s *Session) TranscriptSlot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcriptSlot
}

// ResponseSlot returns the pending reasoning result, if any.
func (s *Session) ResponseSlot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseSlot
}

// ResponseCitations returns the citations attached to the pending reasoning
// result, if any.
func (s *Session) ResponseCitations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.responseSlotCite))
	copy(out, s.responseSlotCite)
	return out
}

// AudioBuffer returns a copy of the accumulated inbound PCM buffer.
func (s *Session) AudioBuffer() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.audioBuffer))
	copy(out, s.audioBuffer)
	return out
}

// ContextMessages returns the tail of the turn history formatted as
// alternating user/assistant messages, at most maxTurns turns.
func (s *Session) ContextMessages(maxTurns int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if len(s.history) > maxTurns {
		start = len(s.history) - maxTurns
	}
	msgs := make([]Message, 0, (len(s.history)-start)*2)
	for _, t := range s.history[start:] {
		msgs = append(msgs, Message{Role: "user", Content: t.UserText})
		msgs = append(msgs, Message{Role: "assistant", Content: t.AssistantText})
	}
	return msgs
}

// Message is one turn of conversational context handed to the reasoner.
type Message struct {
	Role    string
	Content string
}
