package storage

import (
	"context"
	"fmt"
	"time"
)

// Retention enforces limits on recorded runs. Zero limits are disabled.
type Retention struct {
	// MaxAge removes runs whose last event is older than this.
	MaxAge time.Duration
	// MaxRuns keeps at most this many of the newest runs.
	MaxRuns int
	// DryRun reports what would be removed without deleting anything.
	DryRun bool
}

// RetentionReport lists removed (or, for a dry run, removable) run IDs.
type RetentionReport struct {
	Removed []string
	Kept    int
}

// Apply removes runs outside the retention limits. The run with ID exclude
// (typically the one in progress) is never removed.
func (r Retention) Apply(ctx context.Context, s *Store, exclude string, now time.Time) (*RetentionReport, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return nil, err
	}

	report := &RetentionReport{}
	remove := make(map[string]bool)
	if r.MaxAge > 0 {
		cutoff := now.Add(-r.MaxAge)
		for _, run := range runs {
			if run.Last.Before(cutoff) {
				remove[run.ID] = true
			}
		}
	}
	if r.MaxRuns > 0 {
		// runs are oldest first
		kept := 0
		for i := len(runs) - 1; i >= 0; i-- {
			if remove[runs[i].ID] || runs[i].ID == exclude {
				continue
			}
			kept++
			if kept > r.MaxRuns {
				remove[runs[i].ID] = true
			}
		}
	}

	for _, run := range runs {
		if run.ID == exclude || !remove[run.ID] {
			report.Kept++
			continue
		}
		report.Removed = append(report.Removed, run.ID)
	}
	if r.DryRun || len(report.Removed) == 0 {
		return report, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin retention: %w", err)
	}
	defer tx.Rollback()
	for _, id := range report.Removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
			return nil, fmt.Errorf("storage: remove run %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit retention: %w", err)
	}
	s.logger.Info("[storage] removed old runs", "count", len(report.Removed), "kept", report.Kept)
	return report, nil
}
