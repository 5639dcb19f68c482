/*
review.go - Monthly performance review operations

PURPOSE:
  Composes the pipeline pieces into the operations callers use: operator
  summaries with opportunistic refresh, KPI templates, performance records
  with inline scoring, synchronous refresh and run status, and the two
  import paths (assignment sheets, template files).

  The HTTP handlers and the kpictl commands are thin shells over Service.

DATE RANGES:
  A caller pins a range only by giving both dates. With one or none the
  previous calendar month is used and the range is reported as
  auto_last_month. Only auto ranges may trigger a background refresh.

SEE ALSO:
  - etl/refresh.go: refresh orchestration
  - scoring/engine.go: per-indicator scoring
  - api/handlers.go: HTTP transport
*/
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/period"
	"github.com/geekane/1127jixiao/scoring"
	"github.com/geekane/1127jixiao/store/sqlite"
	"github.com/geekane/1127jixiao/transform"
	"go.uber.org/zap"
)

// Range sources reported with operator summaries.
const (
	SourceRequest   = "request"
	SourceLastMonth = "auto_last_month"
)

// Deps holds the collaborators of a Service.
type Deps struct {
	Store      *sqlite.Store
	Refresher  *etl.Refresher
	Gate       *etl.Gate
	Engine     *scoring.Engine // optional
	Department string          // optional, defaults to scoring.DefaultDepartment
	Logger     *zap.Logger     // optional
}

// Service implements the review operations.
type Service struct {
	store      *sqlite.Store
	refresher  *etl.Refresher
	gate       *etl.Gate
	aggregator *etl.Aggregator
	engine     *scoring.Engine
	department string
	log        *zap.Logger
}

// New creates a Service.
func New(deps Deps) *Service {
	s := &Service{
		store:      deps.Store,
		refresher:  deps.Refresher,
		gate:       deps.Gate,
		aggregator: etl.NewAggregator(deps.Store),
		engine:     deps.Engine,
		department: deps.Department,
		log:        deps.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.engine == nil {
		s.engine = scoring.NewEngine(s.log)
	}
	if s.department == "" {
		s.department = scoring.DefaultDepartment
	}
	return s
}

// =============================================================================
// OPERATOR SUMMARIES
// =============================================================================

// SummaryReport is the result of OperatorSummaries.
type SummaryReport struct {
	Range           period.Range
	Source          string
	UpdateTriggered bool
	Summaries       []etl.OperatorSummary
}

// OperatorSummaries aggregates the facts for a range. When the range was
// defaulted and the stored facts are stale a background refresh is started;
// the report still carries the currently stored data.
func (s *Service) OperatorSummaries(ctx context.Context, startDate, endDate string) (SummaryReport, error) {
	rng, source, err := s.resolveRange(startDate, endDate)
	if err != nil {
		return SummaryReport{}, err
	}

	report := SummaryReport{Range: rng, Source: source}
	if source == SourceLastMonth && s.refresher != nil {
		report.UpdateTriggered = s.refresher.RefreshIfStale(ctx)
	}

	report.Summaries, err = s.aggregator.Aggregate(ctx, rng)
	if err != nil {
		return SummaryReport{}, err
	}
	return report, nil
}

func (s *Service) resolveRange(startDate, endDate string) (period.Range, string, error) {
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)
	if startDate == "" || endDate == "" {
		return s.gate.ExpectedPeriod(), SourceLastMonth, nil
	}
	rng, err := period.NewRange(startDate, endDate)
	if err != nil {
		return period.Range{}, "", etl.NewValidationError("date_range", err.Error())
	}
	return rng, SourceRequest, nil
}

// =============================================================================
// TEMPLATES AND PERFORMANCE RECORDS
// =============================================================================

// Template returns the KPI template of a person, empty when none exists.
func (s *Service) Template(ctx context.Context, person string) ([]scoring.TemplateItem, error) {
	person = strings.TrimSpace(person)
	if person == "" {
		return nil, etl.NewValidationError("person", "is required")
	}
	return s.store.GetTemplate(ctx, person)
}

// Performance returns the record for month and person, creating a bare one
// in the default department when none exists.
func (s *Service) Performance(ctx context.Context, month, person string) (*scoring.PerformanceRecord, bool, error) {
	month, person, err := requireMonthPerson(month, person)
	if err != nil {
		return nil, false, err
	}
	return s.store.GetOrCreatePerformance(ctx, month, person, s.department)
}

// UpdateResult is the outcome of UpdatePerformance.
type UpdateResult struct {
	Created         bool
	NothingToUpdate bool
	Score           scoring.ScoreResult
}

// UpdatePerformance applies the allowed, non-null fields of raw to the record,
// creating it when absent, and rescores it with the default range.
func (s *Service) UpdatePerformance(ctx context.Context, month, person string, raw map[string]any) (UpdateResult, error) {
	month, person, err := requireMonthPerson(month, person)
	if err != nil {
		return UpdateResult{}, err
	}

	fields := scoring.FilterUpdate(raw)
	if len(fields) == 0 {
		return UpdateResult{NothingToUpdate: true}, nil
	}

	created, err := s.store.UpdatePerformance(ctx, month, person, s.department, fields)
	if err != nil {
		return UpdateResult{}, err
	}

	score, err := s.Score(ctx, month, person, "", "")
	if err != nil {
		return UpdateResult{}, fmt.Errorf("rescore after update: %w", err)
	}
	return UpdateResult{Created: created, Score: score}, nil
}

// Score computes the KPI score of person for month. The operator summary is
// taken from the given range, or the previous month when it is not pinned.
// A person without a performance record scores with no figures entered.
func (s *Service) Score(ctx context.Context, month, person, startDate, endDate string) (scoring.ScoreResult, error) {
	month, person, err := requireMonthPerson(month, person)
	if err != nil {
		return scoring.ScoreResult{}, err
	}
	rng, _, err := s.resolveRange(startDate, endDate)
	if err != nil {
		return scoring.ScoreResult{}, err
	}

	template, err := s.store.GetTemplate(ctx, person)
	if err != nil {
		return scoring.ScoreResult{}, err
	}

	figures := scoring.Figures{}
	rec, err := s.store.GetPerformance(ctx, month, person)
	switch {
	case err == nil:
		figures = rec.Fields
	case !errors.Is(err, etl.ErrNotFound):
		return scoring.ScoreResult{}, err
	}

	summaries, err := s.aggregator.Aggregate(ctx, rng)
	if err != nil {
		return scoring.ScoreResult{}, err
	}
	summary := etl.OperatorSummary{OperatorName: person}
	for _, sum := range summaries {
		if sum.OperatorName == person {
			summary = sum
			break
		}
	}

	return s.engine.Score(template, figures, summary), nil
}

func requireMonthPerson(month, person string) (string, string, error) {
	month, person = strings.TrimSpace(month), strings.TrimSpace(person)
	if month == "" {
		return "", "", etl.NewValidationError("month", "is required")
	}
	if person == "" {
		return "", "", etl.NewValidationError("person", "is required")
	}
	return month, person, nil
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh runs the full refresh synchronously.
func (s *Service) Refresh(ctx context.Context) (etl.RefreshResult, error) {
	return s.refresher.RunFullRefresh(ctx, etl.TriggerManual)
}

// RefreshInProgress reports whether a refresh pipeline is executing.
func (s *Service) RefreshInProgress() bool {
	return s.refresher != nil && s.refresher.Running()
}

// Runs lists refresh runs, newest first. limit <= 0 lists every run.
func (s *Service) Runs(ctx context.Context, limit int) ([]etl.RefreshRun, error) {
	return s.store.ListRefreshRuns(ctx, limit)
}

// Run returns one refresh run or etl.ErrNotFound.
func (s *Service) Run(ctx context.Context, id string) (*etl.RefreshRun, error) {
	return s.store.GetRefreshRun(ctx, id)
}

// =============================================================================
// IMPORTS
// =============================================================================

// ImportAssignments replaces the assignment table with the records of an
// uploaded sheet. A sheet with no records leaves the table untouched and
// returns 0.
func (s *Service) ImportAssignments(ctx context.Context, data []byte, filename string) (int, error) {
	records, err := transform.ParseAssignments(data, filename)
	if err != nil {
		return 0, etl.NewValidationError("file", err.Error())
	}
	if len(records) == 0 {
		s.log.Warn("assignment upload has no records, table left unchanged", zap.String("file", filename))
		return 0, nil
	}
	if err := s.store.ReplaceAssignments(ctx, records); err != nil {
		return 0, err
	}
	s.log.Info("assignments replaced", zap.String("file", filename), zap.Int("records", len(records)))
	return len(records), nil
}

// ImportTemplates replaces the template of every person named in a YAML
// template file and returns how many persons were imported.
func (s *Service) ImportTemplates(ctx context.Context, r io.Reader) (int, error) {
	templates, err := scoring.ParseTemplates(r)
	if err != nil {
		return 0, etl.NewValidationError("templates", err.Error())
	}
	for _, t := range templates {
		if err := s.store.ReplaceTemplate(ctx, t.PersonName, t.Items); err != nil {
			return 0, fmt.Errorf("import template for %s: %w", t.PersonName, err)
		}
	}
	return len(templates), nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
