package etl

import (
	"context"
	"time"

	"github.com/geekane/1127jixiao/period"
	"go.uber.org/zap"
)

// SnapshotDater reports the newest daily snapshot key.
type SnapshotDater interface {
	MaxDailyDate(ctx context.Context) (string, error)
}

// Gate decides whether the stored facts cover the expected reporting period.
type Gate struct {
	store SnapshotDater
	now   func() time.Time
	log   *zap.Logger
}

// NewGate creates a freshness gate. now defaults to time.Now.
func NewGate(store SnapshotDater, now func() time.Time, log *zap.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{store: store, now: now, log: log}
}

// ExpectedPeriod is the previous calendar month relative to now.
func (g *Gate) ExpectedPeriod() period.Range {
	return period.PreviousMonth(g.now())
}

// IsFresh reports whether the newest daily snapshot equals expectedEndDate.
// A failed query counts as stale so a needed refresh is never skipped.
func (g *Gate) IsFresh(ctx context.Context, expectedEndDate string) bool {
	latest, err := g.store.MaxDailyDate(ctx)
	if err != nil {
		g.log.Warn("freshness check failed, treating data as stale", zap.Error(err))
		return false
	}
	return latest == expectedEndDate
}
