// Package tts adapts third-party speech-synthesis backends onto the
// orchestrator.Synthesizer interface.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/convo-engine/pkg/orchestrator"
)

// LokutorTTS is a Synthesizer backed by the Lokutor streaming TTS websocket
// API. One instance is bound to a single session (see
// orchestrator.SynthesizerFactory): the underlying connection is stateful
// and cannot safely serve two sessions' syntheses concurrently.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLokutorTTS constructs a LokutorTTS client targeting api.lokutor.com.
func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.conn = conn
	return conn, nil
}

func (t *LokutorTTS) dropConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close(websocket.StatusAbnormalClosure, "stream ended")
		t.conn = nil
	}
}

// Synthesize implements orchestrator.Synthesizer. It streams rendered audio
// to onChunk as it arrives and returns once the backend signals
// end-of-stream or ctx is cancelled.
func (t *LokutorTTS) Synthesize(ctx context.Context, text string, params orchestrator.SynthesisParams, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"text":           text,
		"voice":          params.Voice,
		"tone":           params.Tone,
		"pace":           params.Pace,
		"energy":         params.Energy,
		"enable_breaths": params.EnableBreaths,
		"enable_ssml":    params.EnableSSML,
		"prosody":        params.Prosody,
		"version":        "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn()
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.dropConn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

// Abort implements orchestrator.Synthesizer. It asks the backend to stop
// generating for the stream in flight on this connection; the caller is
// also expected to cancel Synthesize's ctx, which unblocks the read loop
// above regardless of whether this best-effort message lands.
func (t *LokutorTTS) Abort(handle string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return wsjson.Write(context.Background(), conn, map[string]string{"type": "stop", "handle": handle})
}

// Name implements orchestrator.Synthesizer.
func (t *LokutorTTS) Name() string {
	return "lokutor"
}

// Close releases the underlying websocket connection, if any.
func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
