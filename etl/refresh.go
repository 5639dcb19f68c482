/*
refresh.go - Full refresh orchestration

PURPOSE:
  Sequences the two fact pipelines for the previous calendar month:

    1. Extract(start, end) -> Transform -> LoadMonthly
    2. Extract(end, end)   -> Transform -> LoadDaily(snapshot = end)

  Each pipeline replaces its own table. When the daily pipeline fails the
  monthly table keeps its new rows; there is no cross-table atomicity.

TRIGGERS:
  - RunFullRefresh: synchronous, the caller waits for counts or an error.
  - RefreshIfStale: consults the freshness gate and, when stale, starts a
    background refresh the caller does not wait for.

SINGLE FLIGHT:
  All refreshes share one singleflight key. At most one pipeline runs per
  process; callers arriving while it runs join it and get its result.
  A background trigger that finds a refresh in flight is a no-op.

RUN RECORDS:
  Every pipeline execution writes a RefreshRun (running, then completed or
  failed) so background failures can be inspected after the fact.

SEE ALSO:
  - freshness.go: staleness decision
  - loader.go:    table replacement
  - extract/client.go: remote export protocol
*/
package etl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geekane/1127jixiao/period"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "full-refresh"

// Extractor downloads a raw export for an inclusive date range.
type Extractor interface {
	Extract(ctx context.Context, startDate, endDate string) ([]byte, error)
}

// TransformFunc parses a raw export into canonical rows.
type TransformFunc func(raw []byte) (RowSource, error)

// RefreshResult reports what a full refresh loaded.
type RefreshResult struct {
	RunID        string
	Period       period.Range
	MonthlyCount int
	DailyCount   int
}

// RefresherDeps holds the collaborators of a Refresher.
type RefresherDeps struct {
	Extractor Extractor
	Transform TransformFunc
	Loader    *Loader
	Gate      *Gate
	Runs      RunStore         // optional
	Now       func() time.Time // optional, defaults to time.Now
	Logger    *zap.Logger      // optional
}

// Refresher runs the full refresh pipeline.
type Refresher struct {
	extractor Extractor
	transform TransformFunc
	loader    *Loader
	gate      *Gate
	runs      RunStore
	now       func() time.Time
	log       *zap.Logger

	group   singleflight.Group
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewRefresher creates a Refresher.
func NewRefresher(deps RefresherDeps) *Refresher {
	r := &Refresher{
		extractor: deps.Extractor,
		transform: deps.Transform,
		loader:    deps.Loader,
		gate:      deps.Gate,
		runs:      deps.Runs,
		now:       deps.Now,
		log:       deps.Logger,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// RunFullRefresh runs the pipeline and waits for it. If a refresh is already
// running the call joins it. The caller's cancellation does not stop a
// pipeline once it has started.
func (r *Refresher) RunFullRefresh(ctx context.Context, trigger Trigger) (RefreshResult, error) {
	v, err, shared := r.group.Do(refreshKey, func() (any, error) {
		return r.run(context.WithoutCancel(ctx), trigger)
	})
	if shared {
		r.log.Debug("joined in-flight refresh", zap.String("trigger", string(trigger)))
	}
	return v.(RefreshResult), err
}

// RefreshIfStale starts a background refresh when the stored facts do not
// cover the expected reporting period. It never waits for the refresh and
// reports whether one was triggered or joined.
func (r *Refresher) RefreshIfStale(ctx context.Context) bool {
	expected := r.gate.ExpectedPeriod()
	if r.gate.IsFresh(ctx, expected.EndString()) {
		return false
	}
	if r.running.Load() {
		r.log.Info("background refresh skipped, a refresh is already in flight")
		return true
	}

	r.log.Info("facts are stale, triggering background refresh",
		zap.String("expected_end", expected.EndString()))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.RunFullRefresh(context.Background(), TriggerBackground); err != nil {
			r.log.Error("background refresh failed", zap.Error(err))
		}
	}()
	return true
}

// Wait blocks until every background refresh started by this Refresher has
// returned.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Running reports whether a refresh pipeline is executing.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

func (r *Refresher) run(ctx context.Context, trigger Trigger) (RefreshResult, error) {
	r.running.Store(true)
	defer r.running.Store(false)

	rng := period.PreviousMonth(r.now())
	run := RefreshRun{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		PeriodStart: rng.StartString(),
		PeriodEnd:   rng.EndString(),
		Status:      RunRunning,
		StartedAt:   r.now(),
	}
	r.saveRun(ctx, run)

	log := r.log.With(zap.String("run_id", run.ID), zap.String("trigger", string(trigger)))
	log.Info("refresh started", zap.String("range", rng.String()))

	res := RefreshResult{RunID: run.ID, Period: rng}

	monthly, err := r.pipeline(ctx, rng.StartString(), rng.EndString(), func(rows RowSource) (int, error) {
		return r.loader.LoadMonthly(ctx, rows)
	})
	if err != nil {
		return res, r.fail(ctx, log, run, fmt.Errorf("monthly pipeline: %w", err))
	}
	res.MonthlyCount = monthly
	run.MonthlyCount = monthly

	end := rng.EndString()
	daily, err := r.pipeline(ctx, end, end, func(rows RowSource) (int, error) {
		return r.loader.LoadDaily(ctx, rows, end)
	})
	if err != nil {
		return res, r.fail(ctx, log, run, fmt.Errorf("daily pipeline: %w", err))
	}
	res.DailyCount = daily
	run.DailyCount = daily

	completed := r.now()
	run.Status = RunCompleted
	run.CompletedAt = &completed
	r.saveRun(ctx, run)

	log.Info("refresh completed", zap.Int("monthly", monthly), zap.Int("daily", daily))
	return res, nil
}

func (r *Refresher) pipeline(ctx context.Context, start, end string, load func(RowSource) (int, error)) (int, error) {
	raw, err := r.extractor.Extract(ctx, start, end)
	if err != nil {
		return 0, err
	}
	rows, err := r.transform(raw)
	if err != nil {
		return 0, fmt.Errorf("transform export: %w", err)
	}
	return load(rows)
}

func (r *Refresher) fail(ctx context.Context, log *zap.Logger, run RefreshRun, err error) error {
	completed := r.now()
	run.Status = RunFailed
	run.Error = err.Error()
	run.CompletedAt = &completed
	r.saveRun(ctx, run)

	log.Error("refresh failed", zap.Error(err))
	return err
}

func (r *Refresher) saveRun(ctx context.Context, run RefreshRun) {
	if r.runs == nil {
		return
	}
	if err := r.runs.SaveRefreshRun(ctx, run); err != nil {
		r.log.Warn("failed to save refresh run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
