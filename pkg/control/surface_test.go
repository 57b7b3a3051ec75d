package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/convo-engine/internal/sink"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

func newTestSurface() (*Surface, *session.Manager) {
	manager := session.NewManager(nil)
	mem := sink.NewMemorySink()
	surface := New(manager, mem, "ws://localhost:8080/ws", nil, nil, nil, nil)
	return surface, manager
}

func TestHandleCreateAppliesDefaultsAndUpsertsSink(t *testing.T) {
	surface, _ := newTestSurface()
	mux := surface.Routes()

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{"tenant_id":"t1","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Config.Voice != session.VoiceAlloy {
		t.Errorf("expected default voice alloy, got %q", resp.Config.Voice)
	}
	if resp.State != session.StateIdle {
		t.Errorf("expected idle state, got %q", resp.State)
	}
	if resp.TransportURL != "ws://localhost:8080/ws/"+resp.SessionID {
		t.Errorf("unexpected transport url: %q", resp.TransportURL)
	}
}

func TestHandleGetDeleteInterruptHistory(t *testing.T) {
	surface, manager := newTestSurface()
	mux := surface.Routes()

	sess := manager.Create(context.Background(), "t1", "u1", session.Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for history, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/interrupt", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for interrupt, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for delete, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHandleServicesHealthRunsIndependently(t *testing.T) {
	manager := session.NewManager(nil)
	mem := sink.NewMemorySink()
	surface := New(manager, mem, "ws://localhost:8080/ws", nil,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("down") },
		nil,
	)
	mux := surface.Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/services", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var health map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health["stt"] {
		t.Error("expected stt healthy")
	}
	if health["llm"] {
		t.Error("expected llm unhealthy")
	}
	if health["tts"] {
		t.Error("expected tts unreachable (nil probe)")
	}
}
