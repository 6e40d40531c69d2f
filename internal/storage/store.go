// Package storage persists lifecycle events to SQLite and summarizes them
// per agent.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/joeycumines/safeswitch/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	agent      TEXT NOT NULL DEFAULT '',
	episode    INTEGER NOT NULL DEFAULT 0,
	episode_id TEXT,
	local_step INTEGER NOT NULL,
	condition  TEXT,
	reward     REAL,
	cause      TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run_agent ON events (run_id, agent);
`

// timeFormat is fixed width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store is an event.Sink writing to SQLite. Write failures are logged and
// remembered; check Err after a run.
type Store struct {
	db     *sql.DB
	runID  uuid.UUID
	logger *slog.Logger
	insert *sql.Stmt

	mu      sync.Mutex
	err     error
	written int
}

var _ event.Sink = (*Store)(nil)

// Open opens (creating if needed) the database at path. Events emitted
// through the store are tagged with runID. Use ":memory:" for a private
// in-memory database.
func Open(path string, runID uuid.UUID, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage: db path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// one connection, so ":memory:" is a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO events
		(id, run_id, kind, agent, episode, episode_id, local_step, condition, reward, cause, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: prepare insert: %w", err)
	}
	return &Store{db: db, runID: runID, logger: logger, insert: insert}, nil
}

// RunID returns the run ID written with every event.
func (s *Store) RunID() uuid.UUID { return s.runID }

// Emit implements event.Sink.
func (s *Store) Emit(e event.Event) {
	var episodeID, cause any
	var reward any
	if e.EpisodeID != uuid.Nil {
		episodeID = e.EpisodeID.String()
	}
	if e.Kind == event.EpisodeEnd {
		cause = e.Cause.String()
		reward = e.Reward
	}
	_, err := s.insert.Exec(
		e.ID.String(),
		s.runID.String(),
		e.Kind.String(),
		e.Agent,
		e.Episode,
		episodeID,
		e.LocalStep,
		nullIfEmpty(e.Condition),
		reward,
		cause,
		e.Time.UTC().Format(timeFormat),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.err == nil {
			s.err = fmt.Errorf("storage: insert %s event: %w", e.Kind, err)
		}
		s.logger.Error("[storage] failed to write event", "kind", e.Kind.String(), "error", err)
		return
	}
	s.written++
}

// Err returns the first write error, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of events written.
func (s *Store) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close closes the database.
func (s *Store) Close() error {
	s.insert.Close()
	return s.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Run describes one recorded run.
type Run struct {
	ID     string
	Events int
	First  time.Time
	Last   time.Time
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM events GROUP BY run_id ORDER BY MIN(created_at)`)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var first, last string
		if err := rows.Scan(&r.ID, &r.Events, &first, &last); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		r.First, _ = time.Parse(timeFormat, first)
		r.Last, _ = time.Parse(timeFormat, last)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AgentSummary aggregates one agent's episodes.
type AgentSummary struct {
	Agent    string
	Episodes int
	// Successes counts episodes ended by the post-condition.
	Successes     int
	ACCViolations int
	// ViolatingEpisodes counts episodes with at least one ACC violation.
	ViolatingEpisodes int
	LocalResets       int
	MeanSteps         float64
	MeanReward        float64
}

// SuccessRate is Successes / Episodes.
func (a AgentSummary) SuccessRate() float64 {
	if a.Episodes == 0 {
		return 0
	}
	return float64(a.Successes) / float64(a.Episodes)
}

// ViolationRate is ViolatingEpisodes / Episodes.
func (a AgentSummary) ViolationRate() float64 {
	if a.Episodes == 0 {
		return 0
	}
	return float64(a.ViolatingEpisodes) / float64(a.Episodes)
}

// Summary aggregates events per agent. An empty runID covers every run.
func (s *Store) Summary(ctx context.Context, runID string) ([]AgentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent,
		SUM(CASE WHEN kind = 'episode_end' THEN 1 ELSE 0 END),
		SUM(CASE WHEN kind = 'episode_end' AND cause = 'post_condition' THEN 1 ELSE 0 END),
		SUM(CASE WHEN kind = 'acc_violated' THEN 1 ELSE 0 END),
		COUNT(DISTINCT CASE WHEN kind = 'acc_violated' THEN episode_id END),
		SUM(CASE WHEN kind = 'local_reset' THEN 1 ELSE 0 END),
		COALESCE(AVG(CASE WHEN kind = 'episode_end' THEN local_step END), 0),
		COALESCE(AVG(CASE WHEN kind = 'episode_end' THEN reward END), 0)
		FROM events
		WHERE agent != '' AND (? = '' OR run_id = ?)
		GROUP BY agent
		ORDER BY agent`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: summary: %w", err)
	}
	defer rows.Close()
	var out []AgentSummary
	for rows.Next() {
		var a AgentSummary
		if err := rows.Scan(&a.Agent, &a.Episodes, &a.Successes, &a.ACCViolations, &a.ViolatingEpisodes, &a.LocalResets, &a.MeanSteps, &a.MeanReward); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Counts returns the number of events per kind. An empty runID covers every
// run.
func (s *Store) Counts(ctx context.Context, runID string) (map[event.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events
		WHERE (? = '' OR run_id = ?) GROUP BY kind`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[event.Kind]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("storage: scan counts: %w", err)
		}
		if k, ok := event.ParseKind(name); ok {
			counts[k] = n
		}
	}
	return counts, rows.Err()
}
