/*
Package etl implements the store-performance ETL pipeline.

PURPOSE:
  Third-party analytics exports arrive as spreadsheets. This package turns
  them into two fact tables, keeps those tables fresh, and aggregates the
  facts per responsible operator.

KEY CONCEPTS IN THIS FILE (types.go):
  - Row:                    one transformed export row (canonical field -> cell)
  - StoreAssignment:        which operator currently owns which store
  - MonthlyVerificationFact: verified amount per store for a monthly range
  - DailyScoreFact:         operation score per store on the period end date
  - OperatorSummary:        derived per-operator view, never persisted

DATA FLOW:
  extract.Client -> transform.Transform -> Loader -> fact tables
  fact tables + assignments -> Aggregator -> []OperatorSummary

SEE ALSO:
  - loader.go:    full-replace loading
  - freshness.go: staleness detection
  - aggregate.go: per-operator aggregation
  - refresh.go:   orchestration and single-flight guard
*/
package etl

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROWS - Canonical export rows
// =============================================================================

// Row is one export row keyed by canonical field name. Cells that were
// empty in the source sheet are absent, not empty strings.
type Row map[string]string

// Get returns the value of a canonical field and whether it was present
// with a non-empty value.
func (r Row) Get(field string) (string, bool) {
	v, ok := r[field]
	return v, ok && v != ""
}

// RowSource is a finite, forward-only sequence of rows. It follows the
// database/sql Rows contract: call Next until it returns false, then Err.
type RowSource interface {
	Next() bool
	Row() Row
	Err() error
}

// SliceRows adapts an in-memory slice to RowSource.
type SliceRows struct {
	rows []Row
	pos  int
}

// NewSliceRows returns a RowSource over rows.
func NewSliceRows(rows []Row) *SliceRows {
	return &SliceRows{rows: rows, pos: -1}
}

func (s *SliceRows) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceRows) Row() Row {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *SliceRows) Err() error { return nil }

// Canonical fields the loader depends on.
const (
	FieldDateRange      = "data_date_range"
	FieldStoreID        = "store_id"
	FieldStoreName      = "store_name"
	FieldVerifyAmount   = "verify_amount"
	FieldOperationScore = "operation_score"
)

// =============================================================================
// FACTS AND ASSIGNMENTS
// =============================================================================

// StoreAssignment maps a store to the operator responsible for it. The
// assignment table is replaced as a whole on every upload.
type StoreAssignment struct {
	GroupID   string
	StoreID   string
	StoreName string
	Person    string
}

// MonthlyVerificationFact is the verified amount of a store over a range
// keyed "YYYY-MM-DD~YYYY-MM-DD".
type MonthlyVerificationFact struct {
	DateRange    string
	StoreID      string
	StoreName    string
	VerifyAmount decimal.Decimal
}

// DailyScoreFact is the operation score of a store on a single snapshot
// date keyed "YYYY-MM-DD".
type DailyScoreFact struct {
	DateRange      string
	StoreID        string
	StoreName      string
	OperationScore decimal.Decimal
}

// =============================================================================
// AGGREGATES
// =============================================================================

// OperatorSummary is the per-operator aggregate. It is recomputed on every
// read.
type OperatorSummary struct {
	OperatorName        string
	GroupID             string
	StoreCount          int
	AvgScore            decimal.Decimal
	TotalVerifiedAmount decimal.Decimal
}

// OperatorGroup is one distinct (person, group) pair from the assignments.
type OperatorGroup struct {
	Person  string
	GroupID string
}

// OperatorFact is one fact value joined to the operator owning its store.
type OperatorFact struct {
	Person  string
	StoreID string
	Value   decimal.Decimal
}

// AggregationInput is everything the Aggregator needs, read in one
// consistent snapshot of the store.
type AggregationInput struct {
	Operators []OperatorGroup
	Amounts   []OperatorFact
	Scores    []OperatorFact
}
