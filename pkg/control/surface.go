// Package control implements the narrow HTTP/JSON ControlSurface (§4.6):
// session creation, inspection, interruption, history, listing, and an
// external-service reachability probe. Every handler mutates session state
// strictly through FSM events or SessionManager operations.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/internal/sink"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// DefaultHealthTimeout is the per-service reachability probe timeout.
const DefaultHealthTimeout = 3 * time.Second

// HealthFunc probes one external service's reachability.
type HealthFunc func(ctx context.Context) error

// Surface is the ControlSurface HTTP handler set.
type Surface struct {
	manager          *session.Manager
	sink             sink.Sink
	transportBaseURL string
	logger           observe.Logger

	healthSTT     HealthFunc
	healthLLM     HealthFunc
	healthTTS     HealthFunc
	healthTimeout time.Duration
}

// New constructs a Surface. transportBaseURL is prefixed to a session id to
// build the transport_url returned from Create (e.g. "ws://host:8080/ws").
// The three health funcs each probe one external service; a nil entry is
// reported unreachable without being called.
func New(manager *session.Manager, sk sink.Sink, transportBaseURL string, logger observe.Logger, healthSTT, healthLLM, healthTTS HealthFunc) *Surface {
	if logger == nil {
		logger = observe.NoOpLogger{}
	}
	return &Surface{
		manager:          manager,
		sink:             sk,
		transportBaseURL: transportBaseURL,
		logger:           logger,
		healthSTT:        healthSTT,
		healthLLM:        healthLLM,
		healthTTS:        healthTTS,
		healthTimeout:    DefaultHealthTimeout,
	}
}

// Routes registers every ControlSurface endpoint on a fresh ServeMux.
func (s *Surface) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /sessions/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("GET /sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /health/services", s.handleServicesHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
