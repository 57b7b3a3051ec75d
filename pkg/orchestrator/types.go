// Package orchestrator drives a turn's transcribe->reason->synthesize
// sequence and adapts it onto the session package's Driver interface.
package orchestrator

import (
	"context"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// Transcriber converts a recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, lang string) (string, error)
	Name() string
}

// Reasoner turns conversational context into a response.
type Reasoner interface {
	Reason(ctx context.Context, messages []session.Message) (response string, citations []string, err error)
	Name() string
}

// SynthesisParams carries the prosody configuration for one synthesize
// call.
type SynthesisParams struct {
	Voice         string
	Tone          string
	Pace          string
	Energy        string
	EnableBreaths bool
	EnableSSML    bool
	Prosody       map[string]string
}

// Synthesizer renders text to audio, delivering it incrementally via
// onChunk. Abort cancels whatever synthesis is in flight for the given
// stream handle, satisfying the interrupt sub-protocol's stop_synthesis
// requirement.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params SynthesisParams, onChunk func([]byte) error) error
	Abort(handle string) error
	Name() string
}

// SynthesizerFactory builds one Synthesizer instance per session, since most
// synthesis backends hold a single stateful connection that cannot safely
// be shared across concurrently speaking sessions.
type SynthesizerFactory func() Synthesizer

// AudioSink receives synthesized audio as it is produced, for forwarding to
// the transport. isFinal marks the last chunk of a turn's synthesis.
type AudioSink interface {
	SendAudio(sessionID string, chunk []byte, isFinal bool) error
}

func synthParams(cfg session.Config) SynthesisParams {
	return SynthesisParams{
		Voice:         string(cfg.Voice),
		Tone:          string(cfg.Tone),
		Pace:          string(cfg.Pace),
		Energy:        string(cfg.Energy),
		EnableBreaths: cfg.EnableBreaths,
		EnableSSML:    cfg.EnableSSML,
		Prosody:       cfg.Prosody,
	}
}
