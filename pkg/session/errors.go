package session

import "errors"

// Sentinel errors covering the session-facing portion of the error taxonomy.
// Service-call failures (transcription_failed, reasoning_failed,
// synthesis_failed) are defined in package orchestrator, which owns those
// calls.
var (
	ErrSessionNotFound   = errors.New("session_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrFatalInternal     = errors.New("fatal_internal")
	ErrBadFrame          = errors.New("bad_frame")
)
