package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/convo-engine/pkg/orchestrator"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

type mockTranscriber struct{ text string }

func (m *mockTranscriber) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	return m.text, nil
}
func (m *mockTranscriber) Name() string { return "mock-stt" }

type mockReasoner struct{ reply string }

func (m *mockReasoner) Reason(ctx context.Context, messages []session.Message) (string, []string, error) {
	return m.reply, nil, nil
}
func (m *mockReasoner) Name() string { return "mock-llm" }

type instantSynthesizer struct{}

func (instantSynthesizer) Synthesize(ctx context.Context, text string, params orchestrator.SynthesisParams, onChunk func([]byte) error) error {
	return onChunk(make([]byte, 4800))
}
func (instantSynthesizer) Abort(string) error { return nil }
func (instantSynthesizer) Name() string       { return "instant-tts" }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTurnCompletesEndToEnd(t *testing.T) {
	orch := orchestrator.New(
		&mockTranscriber{text: "hello there"},
		&mockReasoner{reply: "hi, how can I help?"},
		func() orchestrator.Synthesizer { return instantSynthesizer{} },
		nil, nil, nil,
	)
	mgr := session.NewManager(orch.DriverFactory())
	defer mgr.Stop()

	ctx := context.Background()
	sess := mgr.Create(ctx, "tenant-1", "user-1", session.DefaultConfig())
	_, fsm, ok := mgr.Get(sess.ID)
	if !ok {
		t.Fatal("session not found immediately after creation")
	}

	fsm.Post(session.Event{Type: session.EventUserAudio, Frame: make([]byte, 320)})
	fsm.Post(session.Event{Type: session.EventVADEnded})

	waitFor(t, 2*time.Second, func() bool {
		return sess.State() == session.StateIdle && len(sess.History()) == 1
	})

	turn := sess.History()[0]
	if turn.UserText != "hello there" {
		t.Fatalf("unexpected user text: %q", turn.UserText)
	}
	if turn.AssistantText != "hi, how can I help?" {
		t.Fatalf("unexpected assistant text: %q", turn.AssistantText)
	}
	if sess.Metrics().TotalTurns != 1 {
		t.Fatalf("expected 1 completed turn, got %d", sess.Metrics().TotalTurns)
	}
}

func TestEmptyTranscriptionReturnsToListening(t *testing.T) {
	orch := orchestrator.New(
		&mockTranscriber{text: "   "},
		&mockReasoner{reply: "unused"},
		func() orchestrator.Synthesizer { return instantSynthesizer{} },
		nil, nil, nil,
	)
	mgr := session.NewManager(orch.DriverFactory())
	defer mgr.Stop()

	sess := mgr.Create(context.Background(), "tenant-1", "user-1", session.DefaultConfig())
	_, fsm, _ := mgr.Get(sess.ID)

	fsm.Post(session.Event{Type: session.EventUserAudio, Frame: make([]byte, 320)})
	fsm.Post(session.Event{Type: session.EventVADEnded})

	waitFor(t, time.Second, func() bool { return sess.State() == session.StateListening })
	if len(sess.History()) != 0 {
		t.Fatal("empty transcription must not produce a turn")
	}
}

type blockingSynthesizer struct {
	release chan struct{}
	abortCh chan string
}

func (b *blockingSynthesizer) Synthesize(ctx context.Context, text string, params orchestrator.SynthesisParams, onChunk func([]byte) error) error {
	if err := onChunk(make([]byte, 4800)); err != nil {
		return err
	}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingSynthesizer) Abort(handle string) error {
	select {
	case b.abortCh <- handle:
	default:
	}
	return nil
}

func (b *blockingSynthesizer) Name() string { return "blocking-tts" }

func TestInterruptDuringSpeakingAbortsSynthesis(t *testing.T) {
	tts := &blockingSynthesizer{release: make(chan struct{}), abortCh: make(chan string, 1)}
	orch := orchestrator.New(
		&mockTranscriber{text: "hello"},
		&mockReasoner{reply: "a long reply"},
		func() orchestrator.Synthesizer { return tts },
		nil, nil, nil,
	)
	mgr := session.NewManager(orch.DriverFactory())
	defer mgr.Stop()

	sess := mgr.Create(context.Background(), "tenant-1", "user-1", session.DefaultConfig())
	_, fsm, _ := mgr.Get(sess.ID)

	fsm.Post(session.Event{Type: session.EventUserAudio, Frame: make([]byte, 320)})
	fsm.Post(session.Event{Type: session.EventVADEnded})

	waitFor(t, 2*time.Second, func() bool { return sess.State() == session.StateSpeaking })

	fsm.Post(session.Event{Type: session.EventUserInterrupt})

	select {
	case <-tts.abortCh:
	case <-time.After(time.Second):
		t.Fatal("expected synthesizer Abort to be called on interrupt")
	}

	waitFor(t, time.Second, func() bool { return sess.State() == session.StateListening })

	if sess.Metrics().InterruptCount != 1 {
		t.Fatalf("expected 1 interrupt recorded, got %d", sess.Metrics().InterruptCount)
	}
}
