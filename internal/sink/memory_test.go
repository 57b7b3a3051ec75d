package sink

import (
	"testing"
	"time"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

func TestMemorySinkRecordsTransitionsAndTurns(t *testing.T) {
	m := NewMemorySink()
	s := session.New("tenant-1", "user-1", session.Config{})

	m.UpsertSession(s)
	if m.State(s.ID) != session.StateIdle {
		t.Fatalf("expected idle state recorded, got %v", m.State(s.ID))
	}

	tr := session.Transition{
		From:      session.StateIdle,
		To:        session.StateListening,
		Event:     session.EventVADStarted,
		Timestamp: time.Now(),
	}
	m.OnTransition(s, tr)

	got := m.Transitions(s.ID)
	if len(got) != 1 || got[0].To != session.StateListening {
		t.Fatalf("expected one recorded transition to listening, got %+v", got)
	}

	turn := session.Turn{
		ID:            "turn-1",
		UserText:      "hello",
		AssistantText: "hi there",
		CompletedAt:   time.Now(),
	}
	m.OnTurn(s, turn)

	turns := m.Turns(s.ID)
	if len(turns) != 1 || turns[0].UserText != "hello" {
		t.Fatalf("expected one recorded turn, got %+v", turns)
	}

	// OnStopPlayback must not panic and records nothing.
	m.OnStopPlayback(s.ID)

	m.Close()
}
