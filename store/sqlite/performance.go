package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/scoring"
)

// =============================================================================
// KPI TEMPLATES
// =============================================================================

// GetTemplate returns the ordered template of a person, or an empty slice
// when none exists.
func (s *Store) GetTemplate(ctx context.Context, person string) ([]scoring.TemplateItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT person_name, indicator, category_label, category, kpi_description,
		       weight, formula, editable_field_key, is_auto_calculated
		FROM kpi_templates
		WHERE person_name = ?
		ORDER BY position ASC, id ASC
	`, person)
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	defer rows.Close()

	out := []scoring.TemplateItem{}
	for rows.Next() {
		var it scoring.TemplateItem
		var category, weight string
		if err := rows.Scan(&it.PersonName, &it.Indicator, &it.CategoryLabel, &category,
			&it.KpiDescription, &weight, &it.Formula, &it.EditableFieldKey, &it.IsAutoCalculated); err != nil {
			return nil, err
		}
		if c, ok := scoring.ParseCategory(category); ok {
			it.Category = c
		} else {
			it.Category = scoring.Classify(it.CategoryLabel)
		}
		it.Weight = parseDecimal(weight)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ReplaceTemplate replaces every template item of person.
func (s *Store) ReplaceTemplate(ctx context.Context, person string, items []scoring.TemplateItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM kpi_templates WHERE person_name = ?", person); err != nil {
		return fmt.Errorf("failed to clear template: %w", err)
	}
	for i, it := range items {
		category := it.Category
		if category == "" {
			category = scoring.Classify(it.CategoryLabel)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kpi_templates (person_name, position, indicator, category_label, category,
				kpi_description, weight, formula, editable_field_key, is_auto_calculated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, person, i, it.Indicator, it.CategoryLabel, string(category),
			it.KpiDescription, it.Weight.String(), it.Formula, it.EditableFieldKey, it.IsAutoCalculated)
		if err != nil {
			return fmt.Errorf("failed to insert template item %q: %w", it.Indicator, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// MONTHLY PERFORMANCE
// =============================================================================

var performanceColumns = strings.Join(scoring.PerformanceFields, ", ")

// GetPerformance returns the record of person for month, or etl.ErrNotFound.
func (s *Store) GetPerformance(ctx context.Context, month, person string) (*scoring.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getPerformance(ctx, month, person)
}

func (s *Store) getPerformance(ctx context.Context, month, person string) (*scoring.PerformanceRecord, error) {
	query := `
		SELECT performance_month, person_name, department, created_at, updated_at, ` + performanceColumns + `
		FROM monthly_performance
		WHERE performance_month = ? AND person_name = ?
	`

	var rec scoring.PerformanceRecord
	var createdAt, updatedAt string
	values := make([]sql.NullString, len(scoring.PerformanceFields))
	dest := []any{&rec.Month, &rec.PersonName, &rec.Department, &createdAt, &updatedAt}
	for i := range values {
		dest = append(dest, &values[i])
	}

	err := s.db.QueryRowContext(ctx, query, month, person).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, etl.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query performance record: %w", err)
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Fields = make(scoring.Figures)
	for i, f := range scoring.PerformanceFields {
		if values[i].Valid {
			rec.Fields[f] = values[i].String
		}
	}
	return &rec, nil
}

// GetOrCreatePerformance returns the record of person for month, creating a
// bare record in department when none exists. created reports whether the
// record was new.
func (s *Store) GetOrCreatePerformance(ctx context.Context, month, person, department string) (rec *scoring.PerformanceRecord, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err = s.getPerformance(ctx, month, person)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, etl.ErrNotFound) {
		return nil, false, err
	}

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monthly_performance (performance_month, person_name, department, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(performance_month, person_name) DO NOTHING
	`, month, person, department, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create performance record: %w", err)
	}

	rec, err = s.getPerformance(ctx, month, person)
	return rec, err == nil, err
}

// UpdatePerformance writes fields onto the record of person for month and
// creates the record in department when none matched. Every key of fields
// must be on the scoring.PerformanceFields allow-list.
func (s *Store) UpdatePerformance(ctx context.Context, month, person, department string, fields scoring.Figures) (created bool, err error) {
	keys := make([]string, 0, len(fields))
	for _, f := range scoring.PerformanceFields {
		if _, ok := fields[f]; ok {
			keys = append(keys, f)
		}
	}
	if len(keys) != len(fields) {
		for k := range fields {
			if !scoring.IsPerformanceField(k) {
				return false, etl.NewValidationError(k, "field is not editable")
			}
		}
	}
	if len(keys) == 0 {
		return false, etl.NewValidationError("", "nothing to update")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+3)
	for i, k := range keys {
		sets[i] = k + " = ?"
		args = append(args, fields[k])
	}
	args = append(args, now, month, person)

	res, err := s.db.ExecContext(ctx,
		"UPDATE monthly_performance SET "+strings.Join(sets, ", ")+", updated_at = ? WHERE performance_month = ? AND person_name = ?",
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to update performance record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	cols := append([]string{"performance_month", "person_name", "department", "created_at", "updated_at"}, keys...)
	vals := []any{month, person, department, now, now}
	for _, k := range keys {
		vals = append(vals, fields[k])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO monthly_performance ("+strings.Join(cols, ", ")+") VALUES ("+placeholders+")",
		vals...)
	if err != nil {
		return false, fmt.Errorf("failed to create performance record: %w", err)
	}
	return true, nil
}
