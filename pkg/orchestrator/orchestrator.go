package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func metricOpt(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(attrs...)
}

const (
	TranscriptionTimeout = 10 * time.Second
	ReasoningTimeout     = 30 * time.Second
	SynthesisTimeout     = 30 * time.Second

	// outputSampleRate is the PCM sample rate assumed for synthesized audio
	// when estimating a turn's audio duration for its history record. The
	// synthesize contract (§6) does not name a fixed output rate; 24kHz
	// mono 16-bit matches the common default for the vendor TTS backends
	// wired in package providers/tts.
	outputSampleRate = 24000
)

// Orchestrator owns the three ServiceClients and produces a
// session.DriverFactory that binds each newly created session to its own
// turn-driving logic.
type Orchestrator struct {
	stt        Transcriber
	llm        Reasoner
	ttsFactory SynthesizerFactory
	audioSink  AudioSink
	logger     observe.Logger
	metrics    *observe.Metrics
}

// New constructs an Orchestrator. audioSink may be nil in tests that don't
// care about outbound audio delivery.
func New(stt Transcriber, llm Reasoner, ttsFactory SynthesizerFactory, audioSink AudioSink, logger observe.Logger, metrics *observe.Metrics) *Orchestrator {
	if logger == nil {
		logger = observe.NoOpLogger{}
	}
	return &Orchestrator{stt: stt, llm: llm, ttsFactory: ttsFactory, audioSink: audioSink, logger: logger, metrics: metrics}
}

// DriverFactory adapts Orchestrator into a session.DriverFactory, suitable
// for passing straight to session.NewManager.
func (o *Orchestrator) DriverFactory() session.DriverFactory {
	return func(sess *session.Session, fsm *session.FSM) session.Driver {
		var tts Synthesizer
		if o.ttsFactory != nil {
			tts = o.ttsFactory()
		}
		return &sessionDriver{orch: o, session: sess, fsm: fsm, tts: tts}
	}
}

func (o *Orchestrator) recordProviderCall(ctx context.Context, stage string, dur time.Duration, err error) {
	if o.metrics == nil {
		return
	}
	attr := observe.Attr("stage", stage)
	o.metrics.ProviderRequests.Add(ctx, 1, metricOpt(attr))
	if err != nil && !errors.Is(err, context.Canceled) {
		o.metrics.ProviderErrors.Add(ctx, 1, metricOpt(attr))
	}
	switch stage {
	case "stt":
		o.metrics.TranscriptionDuration.Record(ctx, dur.Seconds())
	case "llm":
		o.metrics.ReasoningDuration.Record(ctx, dur.Seconds())
	case "tts":
		o.metrics.SynthesisDuration.Record(ctx, dur.Seconds())
	}
}

// sessionDriver implements session.Driver for one session, holding the
// per-session Synthesizer connection and the in-flight cancellation token
// for whatever synthesis is currently playing.
type sessionDriver struct {
	orch    *Orchestrator
	session *session.Session
	fsm     *session.FSM
	tts     Synthesizer

	mu        sync.Mutex
	handle    string
	ttsCancel context.CancelFunc
}

func (d *sessionDriver) BeginTranscription(s *session.Session) {
	if d.orch.stt == nil {
		d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "transcription_failed"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), TranscriptionTimeout)
	pcm := s.AudioBuffer()
	go func() {
		defer cancel()
		start := time.Now()
		text, err := d.orch.stt.Transcribe(ctx, pcm, "")
		d.orch.recordProviderCall(ctx, "stt", time.Since(start), err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.orch.logger.Warn("transcription failed", "session", s.ID, "error", err)
			d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "transcription_failed"})
			return
		}
		d.fsm.Post(session.Event{Type: session.EventTranscriptionFinal, Text: text})
	}()
}

func (d *sessionDriver) BeginReasoning(s *session.Session) {
	if d.orch.llm == nil {
		d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "reasoning_failed"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ReasoningTimeout)
	msgs := append(s.ContextMessages(d.fsm.MaxContextTurns()), session.Message{Role: "user", Content: s.TranscriptSlot()})
	go func() {
		defer cancel()
		start := time.Now()
		response, citations, err := d.orch.llm.Reason(ctx, msgs)
		d.orch.recordProviderCall(ctx, "llm", time.Since(start), err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.orch.logger.Warn("reasoning failed", "session", s.ID, "error", err)
			d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "reasoning_failed"})
			return
		}
		d.fsm.Post(session.Event{Type: session.EventLLMResponseComplete, Text: response, Citations: citations})
	}()
}

func (d *sessionDriver) BeginAnswering(s *session.Session) {
	if d.tts == nil {
		d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "synthesis_failed"})
		return
	}

	handle := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), SynthesisTimeout)

	d.mu.Lock()
	d.handle = handle
	d.ttsCancel = cancel
	d.mu.Unlock()

	d.fsm.Post(session.Event{Type: session.EventTTSStarted, Handle: handle})

	text := s.ResponseSlot()
	params := synthParams(s.Config)

	go func() {
		defer cancel()
		start := time.Now()
		var totalBytes int
		err := d.tts.Synthesize(ctx, text, params, func(chunk []byte) error {
			totalBytes += len(chunk)
			if d.orch.audioSink != nil {
				return d.orch.audioSink.SendAudio(s.ID, chunk, false)
			}
			return nil
		})
		d.orch.recordProviderCall(ctx, "tts", time.Since(start), err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.orch.logger.Warn("synthesis failed", "session", s.ID, "error", err)
			d.fsm.Post(session.Event{Type: session.EventError, ErrKind: "synthesis_failed"})
			return
		}
		if d.orch.audioSink != nil {
			_ = d.orch.audioSink.SendAudio(s.ID, nil, true)
		}
		audioDurationMs := int64(totalBytes) * 1000 / int64(outputSampleRate*2)
		d.fsm.Post(session.Event{Type: session.EventTTSComplete, AudioDurationMs: audioDurationMs})
	}()
}

// StopSynthesis cancels whatever synthesis this driver last started. handle
// is advisory: the FSM's session-level ttsStreamHandle can still be blank
// when an interrupt is processed ahead of the queued tts_started event, so a
// non-empty handle is checked against the driver's own bookkeeping but an
// empty one does not prevent stopping the in-flight call.
func (d *sessionDriver) StopSynthesis(handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == "" {
		return
	}
	if handle != "" && d.handle != handle {
		return
	}
	stopped := d.handle
	d.handle = ""
	if d.ttsCancel != nil {
		d.ttsCancel()
	}
	if d.tts != nil {
		if err := d.tts.Abort(stopped); err != nil {
			d.orch.logger.Warn("tts abort failed", "session", d.session.ID, "handle", stopped, "error", err)
		}
	}
}

// Close releases the session's Synthesizer connection. Invoked by
// session.Manager.Delete via an interface{ Close() } type assertion.
func (d *sessionDriver) Close() {
	if closer, ok := d.tts.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
