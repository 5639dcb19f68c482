package etl

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence contracts consumed by the pipeline
// =============================================================================

// FactStore persists the two fact tables.
type FactStore interface {
	// ReplaceMonthlyFacts deletes every monthly fact and inserts facts in
	// one transaction. Readers see either the old set or the new one.
	ReplaceMonthlyFacts(ctx context.Context, facts []MonthlyVerificationFact) error

	// ReplaceDailyFacts is ReplaceMonthlyFacts for the daily-score table.
	ReplaceDailyFacts(ctx context.Context, facts []DailyScoreFact) error

	// MaxDailyDate returns the greatest snapshot key in the daily-score
	// table, or "" when the table is empty.
	MaxDailyDate(ctx context.Context) (string, error)
}

// AggregateStore serves the joins behind operator summaries.
type AggregateStore interface {
	// AggregationInput returns the distinct operators, the monthly facts for
	// dateRange joined to their operator, and the daily scores for snapshot
	// joined to their operator, read from one consistent snapshot.
	AggregationInput(ctx context.Context, dateRange, snapshot string) (AggregationInput, error)
}

// =============================================================================
// REFRESH RUNS - Job status records for refresh pipelines
// =============================================================================

// Trigger identifies what started a refresh.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

// RunStatus is the lifecycle state of a refresh run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RefreshRun records one execution of the full refresh pipeline.
type RefreshRun struct {
	ID           string
	Trigger      Trigger
	PeriodStart  string
	PeriodEnd    string
	Status       RunStatus
	MonthlyCount int
	DailyCount   int
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// RunStore persists refresh run records.
type RunStore interface {
	SaveRefreshRun(ctx context.Context, run RefreshRun) error
}
