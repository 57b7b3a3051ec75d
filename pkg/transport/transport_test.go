package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

func newTestServer(t *testing.T, tr *Transport) (string, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(tr.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
	return wsURL, srv.Close
}

func readJSON(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]any
	if idx := indexOf(payload, '\n'); idx >= 0 {
		payload = payload[:idx]
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	return v
}

func indexOf(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func TestHandleWebSocketRejectsUnknownSession(t *testing.T) {
	manager := session.NewManager(nil)
	tr := New(manager, nil)
	url, closeSrv := newTestServer(t, tr)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, url+"does-not-exist", nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown session")
	}
}

func TestHandleWebSocketSendsReadyThenStateChange(t *testing.T) {
	manager := session.NewManager(nil)
	tr := New(manager, nil)
	manager.SetObserver(tr)

	sess := manager.Create(context.Background(), "tenant", "user", session.Config{})
	url, closeSrv := newTestServer(t, tr)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url+sess.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ready := readJSON(t, ctx, conn)
	if ready["type"] != "ready" {
		t.Fatalf("expected ready frame first, got %+v", ready)
	}

	// Sending a silent (all-zero) audio frame from IDLE still drives
	// user_audio -> IDLE->LISTENING, which the Transport should broadcast.
	silence := make([]byte, 320)
	if err := conn.Write(ctx, websocket.MessageBinary, silence); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	stateChange := readJSON(t, ctx, conn)
	if stateChange["type"] != "state_change" {
		t.Fatalf("expected state_change frame, got %+v", stateChange)
	}
}

func TestHandleWebSocketRespondsToOffer(t *testing.T) {
	manager := session.NewManager(nil)
	tr := New(manager, nil)
	manager.SetObserver(tr)

	sess := manager.Create(context.Background(), "tenant", "user", session.Config{})
	url, closeSrv := newTestServer(t, tr)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url+sess.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_ = readJSON(t, ctx, conn) // ready

	offer, _ := json.Marshal(map[string]string{"type": "offer"})
	if err := conn.Write(ctx, websocket.MessageText, offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	answer := readJSON(t, ctx, conn)
	if answer["type"] != "answer" {
		t.Fatalf("expected synthetic answer, got %+v", answer)
	}
}

func TestHandleWebSocketInterruptEmitsUserInterrupt(t *testing.T) {
	manager := session.NewManager(nil)
	tr := New(manager, nil)
	manager.SetObserver(tr)

	sess := manager.Create(context.Background(), "tenant", "user", session.Config{})
	url, closeSrv := newTestServer(t, tr)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url+sess.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_ = readJSON(t, ctx, conn) // ready

	interrupt, _ := json.Marshal(map[string]string{"type": "interrupt"})
	if err := conn.Write(ctx, websocket.MessageText, interrupt); err != nil {
		t.Fatalf("write interrupt: %v", err)
	}

	// Outside ANSWERING/SPEAKING the FSM ignores interrupt, so there is no
	// observable frame; this only asserts the write doesn't break the
	// connection or panic the handler.
	time.Sleep(50 * time.Millisecond)
}
