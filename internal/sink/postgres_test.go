package sink_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/internal/sink"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if CONVO_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CONVO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONVO_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresSinkPersistsSessionTransitionAndTurn(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	s, err := sink.NewPostgresSink(ctx, dsn, observe.NoOpLogger{})
	if err != nil {
		t.Fatalf("NewPostgresSink: %v", err)
	}
	t.Cleanup(s.Close)

	sess := session.New("tenant-1", "user-1", session.Config{})
	s.UpsertSession(sess)

	s.OnTransition(sess, session.Transition{
		From:      session.StateIdle,
		To:        session.StateListening,
		Event:     session.EventVADStarted,
		Timestamp: time.Now(),
	})

	s.OnTurn(sess, session.Turn{
		ID:            "turn-1",
		UserText:      "hello",
		AssistantText: "hi there",
		CompletedAt:   time.Now(),
	})

	// Writes are dispatched asynchronously to a per-session worker; give
	// the queue a moment to drain before the test (and t.Cleanup) return.
	time.Sleep(100 * time.Millisecond)
}
