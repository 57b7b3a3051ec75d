package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// createRequest is the input shape for POST /sessions (§6).
type createRequest struct {
	TenantID       string            `json:"tenant_id"`
	UserID         string            `json:"user_id"`
	Voice          string            `json:"voice"`
	Tone           string            `json:"tone"`
	Pace           string            `json:"pace"`
	Energy         string            `json:"energy"`
	Prosody        map[string]string `json:"prosody"`
	EnableBreaths  *bool             `json:"enable_breaths"`
	EnableSSML     *bool             `json:"enable_ssml"`
	VADSensitivity float64           `json:"vad_sensitivity"`
}

func (r createRequest) toConfig() session.Config {
	cfg := session.Config{
		Voice:          session.Voice(r.Voice),
		Tone:           session.Tone(r.Tone),
		Pace:           session.Pace(r.Pace),
		Energy:         session.Energy(r.Energy),
		Prosody:        r.Prosody,
		VADSensitivity: r.VADSensitivity,
	}
	if r.EnableBreaths != nil {
		cfg.EnableBreaths = *r.EnableBreaths
	} else {
		cfg.EnableBreaths = true
	}
	if r.EnableSSML != nil {
		cfg.EnableSSML = *r.EnableSSML
	} else {
		cfg.EnableSSML = true
	}
	return cfg.ApplyDefaults()
}

type createResponse struct {
	SessionID    string         `json:"session_id"`
	TransportURL string         `json:"transport_url"`
	Config       session.Config `json:"config"`
	State        session.State  `json:"state"`
}

func (s *Surface) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess := s.manager.Create(r.Context(), req.TenantID, req.UserID, req.toConfig())
	if s.sink != nil {
		s.sink.UpsertSession(sess)
	}

	writeJSON(w, http.StatusCreated, createResponse{
		SessionID:    sess.ID,
		TransportURL: s.transportBaseURL + "/" + sess.ID,
		Config:       sess.Config,
		State:        sess.State(),
	})
}

type getResponse struct {
	SessionID string          `json:"session_id"`
	State     session.State   `json:"state"`
	Config    session.Config  `json:"config"`
	Metrics   session.Metrics `json:"metrics"`
	History   []session.Turn  `json:"history"`
	Connected bool            `json:"connected"`
}

func (s *Surface) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, _, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, getResponse{
		SessionID: sess.ID,
		State:     sess.State(),
		Config:    sess.Config,
		Metrics:   sess.Metrics(),
		History:   sess.History(),
		Connected: sess.Connected(),
	})
}

func (s *Surface) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.manager.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Surface) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, fsm, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	fsm.Post(session.Event{Type: session.EventUserInterrupt})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Surface) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, _, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": sess.History()})
}

type sessionSummary struct {
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
	Connected bool          `json:"connected"`
}

func (s *Surface) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{SessionID: sess.ID, State: sess.State(), Connected: sess.Connected()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Surface) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	var stt, llm, tts bool
	var wg sync.WaitGroup

	probe := func(fn HealthFunc, out *bool) {
		defer wg.Done()
		if fn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
		defer cancel()
		*out = fn(ctx) == nil
	}

	wg.Add(3)
	go probe(s.healthSTT, &stt)
	go probe(s.healthLLM, &llm)
	go probe(s.healthTTS, &tts)
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]bool{"stt": stt, "llm": llm, "tts": tts})
}
