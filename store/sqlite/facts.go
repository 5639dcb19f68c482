package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/geekane/1127jixiao/etl"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// ReplaceAssignments replaces the whole assignment table.
func (s *Store) ReplaceAssignments(ctx context.Context, assignments []etl.StoreAssignment) error {
	now := formatTime(time.Now())
	return s.replaceAll(ctx, "store_assignments", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO store_assignments (group_id, store_id, store_name, person, created_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare assignment insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range assignments {
			if _, err := stmt.ExecContext(ctx, a.GroupID, a.StoreID, a.StoreName, a.Person, now); err != nil {
				return fmt.Errorf("failed to insert assignment: %w", err)
			}
		}
		return nil
	})
}

// ListAssignments returns the assignments in upload order.
func (s *Store) ListAssignments(ctx context.Context) ([]etl.StoreAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, store_id, store_name, person
		FROM store_assignments
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []etl.StoreAssignment
	for rows.Next() {
		var a etl.StoreAssignment
		if err := rows.Scan(&a.GroupID, &a.StoreID, &a.StoreName, &a.Person); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// FACTS (etl.FactStore)
// =============================================================================

// ReplaceMonthlyFacts replaces the monthly verification facts.
func (s *Store) ReplaceMonthlyFacts(ctx context.Context, facts []etl.MonthlyVerificationFact) error {
	return s.replaceAll(ctx, "monthly_verification_facts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO monthly_verification_facts (date_range, store_id, store_name, verify_amount)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare monthly insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range facts {
			if _, err := stmt.ExecContext(ctx, f.DateRange, f.StoreID, f.StoreName, f.VerifyAmount.String()); err != nil {
				return fmt.Errorf("failed to insert monthly fact: %w", err)
			}
		}
		return nil
	})
}

// ReplaceDailyFacts replaces the daily score facts.
func (s *Store) ReplaceDailyFacts(ctx context.Context, facts []etl.DailyScoreFact) error {
	return s.replaceAll(ctx, "daily_score_facts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_score_facts (date_range, store_id, store_name, operation_score)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare daily insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range facts {
			if _, err := stmt.ExecContext(ctx, f.DateRange, f.StoreID, f.StoreName, f.OperationScore.String()); err != nil {
				return fmt.Errorf("failed to insert daily fact: %w", err)
			}
		}
		return nil
	})
}

// MaxDailyDate returns the newest daily snapshot key, or "" when there are
// no daily facts.
func (s *Store) MaxDailyDate(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(date_range) FROM daily_score_facts").Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return latest.String, nil
}

// MonthlyFacts returns every stored monthly fact.
func (s *Store) MonthlyFacts(ctx context.Context) ([]etl.MonthlyVerificationFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date_range, store_id, store_name, verify_amount
		FROM monthly_verification_facts ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly facts: %w", err)
	}
	defer rows.Close()

	var out []etl.MonthlyVerificationFact
	for rows.Next() {
		var f etl.MonthlyVerificationFact
		var amount string
		if err := rows.Scan(&f.DateRange, &f.StoreID, &f.StoreName, &amount); err != nil {
			return nil, err
		}
		f.VerifyAmount = parseDecimal(amount)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DailyFacts returns every stored daily fact.
func (s *Store) DailyFacts(ctx context.Context) ([]etl.DailyScoreFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date_range, store_id, store_name, operation_score
		FROM daily_score_facts ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily facts: %w", err)
	}
	defer rows.Close()

	var out []etl.DailyScoreFact
	for rows.Next() {
		var f etl.DailyScoreFact
		var score string
		if err := rows.Scan(&f.DateRange, &f.StoreID, &f.StoreName, &score); err != nil {
			return nil, err
		}
		f.OperationScore = parseDecimal(score)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// AGGREGATION (etl.AggregateStore)
// =============================================================================

// AggregationInput reads the operators and both fact joins in one read
// transaction so a concurrent replace cannot split them.
func (s *Store) AggregationInput(ctx context.Context, dateRange, snapshot string) (etl.AggregationInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var in etl.AggregationInput

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return in, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT person, group_id FROM store_assignments ORDER BY id ASC
	`)
	if err != nil {
		return in, fmt.Errorf("failed to query operators: %w", err)
	}
	for rows.Next() {
		var op etl.OperatorGroup
		if err := rows.Scan(&op.Person, &op.GroupID); err != nil {
			rows.Close()
			return in, err
		}
		in.Operators = append(in.Operators, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return in, err
	}

	in.Amounts, err = queryOperatorFacts(ctx, tx, `
		SELECT a.person, f.store_id, f.verify_amount
		FROM monthly_verification_facts f
		JOIN store_assignments a ON a.store_id = f.store_id AND f.store_id <> ''
		WHERE f.date_range = ?
		ORDER BY f.id ASC
	`, dateRange)
	if err != nil {
		return in, fmt.Errorf("failed to query monthly amounts: %w", err)
	}

	in.Scores, err = queryOperatorFacts(ctx, tx, `
		SELECT a.person, f.store_id, f.operation_score
		FROM daily_score_facts f
		JOIN store_assignments a ON a.store_id = f.store_id AND f.store_id <> ''
		WHERE f.date_range = ?
		ORDER BY f.id ASC
	`, snapshot)
	if err != nil {
		return in, fmt.Errorf("failed to query daily scores: %w", err)
	}

	return in, tx.Commit()
}

func queryOperatorFacts(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]etl.OperatorFact, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []etl.OperatorFact
	for rows.Next() {
		var f etl.OperatorFact
		var value string
		if err := rows.Scan(&f.Person, &f.StoreID, &value); err != nil {
			return nil, err
		}
		f.Value = parseDecimal(value)
		out = append(out, f)
	}
	return out, rows.Err()
}
