// Package sink implements the conversation engine's durable, best-effort
// persistence layer. A Sink observes FSM activity (session.Observer) and
// records sessions, turns, and transitions without ever blocking or
// propagating failures back into a session's execution context.
package sink

import (
	"context"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// Sink is the durable persistence surface. It implements session.Observer
// so it can be registered as one of a session's observers alongside the
// transport layer; UpsertSession additionally lets the control surface
// persist a session the moment it is created, before any transition has
// occurred.
type Sink interface {
	session.Observer

	// UpsertSession writes the current snapshot of s, used at session
	// creation time and when a session is torn down.
	UpsertSession(s *session.Session)

	// Close stops accepting new work and waits for queued writes to drain.
	Close()
}

// writeJob is one unit of persistence work, dispatched to the worker
// goroutine owning a given session id.
type writeJob func(ctx context.Context) error

// worker serializes writeJobs for a single session id onto one goroutine,
// matching the "serialize writes per session id" requirement without
// holding up the FSM's own execution context.
type worker struct {
	jobs chan writeJob
	done chan struct{}
}

func newWorker(ctx context.Context, logger observe.Logger, label string) *worker {
	w := &worker{
		jobs: make(chan writeJob, 64),
		done: make(chan struct{}),
	}
	go w.run(ctx, logger, label)
	return w
}

func (w *worker) run(ctx context.Context, logger observe.Logger, label string) {
	defer close(w.done)
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			if err := job(ctx); err != nil {
				logger.Warn("sink write failed", "session", label, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues job, dropping it (with a log) rather than blocking the
// caller if the worker's queue is full.
func (w *worker) submit(job writeJob, logger observe.Logger, label string) {
	select {
	case w.jobs <- job:
	default:
		logger.Warn("sink queue full, dropping write", "session", label)
	}
}

func (w *worker) stop() {
	close(w.jobs)
	<-w.done
}
