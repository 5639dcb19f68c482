package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/geekane/1127jixiao/etl"
)

// =============================================================================
// REFRESH RUNS (etl.RunStore)
// =============================================================================

// SaveRefreshRun inserts or updates a refresh run record.
func (s *Store) SaveRefreshRun(ctx context.Context, r etl.RefreshRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO refresh_runs (id, trigger_kind, period_start, period_end, status,
			monthly_count, daily_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			monthly_count = excluded.monthly_count,
			daily_count = excluded.daily_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, string(r.Trigger), r.PeriodStart, r.PeriodEnd, string(r.Status),
		r.MonthlyCount, r.DailyCount, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh run: %w", err)
	}
	return nil
}

// ListRefreshRuns returns the most recent runs first. limit <= 0 returns
// every run.
func (s *Store) ListRefreshRuns(ctx context.Context, limit int) ([]etl.RefreshRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger_kind, period_start, period_end, status, monthly_count, daily_count,
		       error, started_at, completed_at
		FROM refresh_runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh runs: %w", err)
	}
	defer rows.Close()

	runs := []etl.RefreshRun{}
	for rows.Next() {
		r, err := scanRefreshRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRefreshRun returns one run, or etl.ErrNotFound.
func (s *Store) GetRefreshRun(ctx context.Context, id string) (*etl.RefreshRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_kind, period_start, period_end, status, monthly_count, daily_count,
		       error, started_at, completed_at
		FROM refresh_runs WHERE id = ?
	`, id)

	r, err := scanRefreshRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, etl.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh run: %w", err)
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRefreshRun(sc scanner) (etl.RefreshRun, error) {
	var r etl.RefreshRun
	var trigger, status, startedAt string
	var errMsg, completedAt sql.NullString

	err := sc.Scan(&r.ID, &trigger, &r.PeriodStart, &r.PeriodEnd, &status,
		&r.MonthlyCount, &r.DailyCount, &errMsg, &startedAt, &completedAt)
	if err != nil {
		return r, err
	}

	r.Trigger = etl.Trigger(trigger)
	r.Status = etl.RunStatus(status)
	r.Error = errMsg.String
	r.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		r.CompletedAt = &t
	}
	return r, nil
}
