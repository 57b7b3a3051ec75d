package orchestrator

import "errors"

// Sentinel errors for the service-call portion of the error taxonomy (§7).
// FSM-level errors (invalid_transition, session_not_found, bad_frame,
// fatal_internal) live in package session.
var (
	ErrTranscriptionFailed = errors.New("transcription_failed")
	ErrReasoningFailed     = errors.New("reasoning_failed")
	ErrSynthesisFailed     = errors.New("synthesis_failed")
	ErrCancelled           = errors.New("cancelled")
	ErrNilProvider         = errors.New("orchestrator: nil provider")
)
