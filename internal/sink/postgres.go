package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// PostgresSink is a Sink backed by a pooled PostgreSQL connection. All
// writes for a given session id run on that session's own worker goroutine,
// so two sessions never block each other and a single session's writes
// never race.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger observe.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
}

// NewPostgresSink connects to dsn, runs Migrate, and returns a ready Sink.
func NewPostgresSink(ctx context.Context, dsn string, logger observe.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = observe.NoOpLogger{}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: migrate: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	return &PostgresSink{
		pool:    pool,
		logger:  logger,
		ctx:     workerCtx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}, nil
}

func (p *PostgresSink) workerFor(sessionID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[sessionID]
	if !ok {
		w = newWorker(p.ctx, p.logger, sessionID)
		p.workers[sessionID] = w
	}
	return w
}

// UpsertSession implements Sink.
func (p *PostgresSink) UpsertSession(s *session.Session) {
	id := s.ID
	cfg, _ := json.Marshal(s.Config)
	metrics, _ := json.Marshal(s.Metrics())
	state := s.State()
	tenantID, userID := s.TenantID, s.UserID
	m := s.Metrics()

	p.workerFor(id).submit(func(ctx context.Context) error {
		const q = `
			INSERT INTO sessions (session_id, tenant_id, user_id, state, config, metrics, created_at, updated_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
			ON CONFLICT (session_id) DO UPDATE SET
			    state      = EXCLUDED.state,
			    config     = EXCLUDED.config,
			    metrics    = EXCLUDED.metrics,
			    updated_at = now(),
			    ended_at   = EXCLUDED.ended_at`
		_, err := p.pool.Exec(ctx, q, id, tenantID, userID, string(state), cfg, metrics, m.CreatedAt, m.EndedAt)
		if err != nil {
			return fmt.Errorf("sink: upsert session: %w", err)
		}
		return nil
	}, p.logger, id)
}

// OnTransition implements session.Observer. It persists the transition row
// and refreshes the session's state/metrics snapshot.
func (p *PostgresSink) OnTransition(s *session.Session, tr session.Transition) {
	p.UpsertSession(s)

	id := s.ID
	metadata, _ := json.Marshal(tr.Metadata)
	from, to, event, ts := tr.From, tr.To, tr.Event, tr.Timestamp

	p.workerFor(id).submit(func(ctx context.Context) error {
		const q = `
			INSERT INTO transitions (session_id, from_state, to_state, event, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`
		_, err := p.pool.Exec(ctx, q, id, string(from), string(to), string(event), metadata, ts)
		if err != nil {
			return fmt.Errorf("sink: insert transition: %w", err)
		}
		return nil
	}, p.logger, id)
}

// OnStopPlayback implements session.Observer. Stop-playback notifications
// carry nothing worth persisting.
func (p *PostgresSink) OnStopPlayback(sessionID string) {}

// OnTurn implements session.Observer. It persists the completed turn.
func (p *PostgresSink) OnTurn(s *session.Session, turn session.Turn) {
	id := s.ID
	citations, _ := json.Marshal(turn.Citations)

	p.workerFor(id).submit(func(ctx context.Context) error {
		const q = `
			INSERT INTO turns (turn_id, session_id, user_text, assistant_text, citations, audio_duration_ms, latency_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := p.pool.Exec(ctx, q, turn.ID, id, turn.UserText, turn.AssistantText, citations, turn.AudioDurationMs, turn.LatencyMs, turn.CompletedAt)
		if err != nil {
			return fmt.Errorf("sink: insert turn: %w", err)
		}
		return nil
	}, p.logger, id)

	p.UpsertSession(s)
}

// Close implements Sink. It stops every per-session worker and closes the
// underlying pool.
func (p *PostgresSink) Close() {
	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	p.cancel()
	for _, w := range workers {
		w.stop()
	}
	p.pool.Close()
}

var _ Sink = (*PostgresSink)(nil)
