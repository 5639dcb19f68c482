/*
scheduler.go - Periodic freshness check

PURPOSE:
  Periodically asks the refresher whether the stored facts still cover the
  previous calendar month and, when they do not, lets it start a background
  refresh. This catches month rollover even when no one reads summaries.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks once immediately on Start
  - Delegates staleness and single-flight handling to etl.Refresher, so a
    tick during a running refresh is a no-op

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewRefreshScheduler(refresher, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - etl/refresh.go: RefreshIfStale
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleRefresher starts a background refresh when stored facts are stale.
type StaleRefresher interface {
	RefreshIfStale(ctx context.Context) bool
}

// RefreshScheduler checks freshness on a fixed interval.
type RefreshScheduler struct {
	Refresher     StaleRefresher
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefreshScheduler creates a new scheduler.
func NewRefreshScheduler(refresher StaleRefresher, log *zap.Logger) *RefreshScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshScheduler{
		Refresher:     refresher,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
	}
}

// Start begins the scheduler. Calling Start on a running scheduler does
// nothing.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("refresh scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info("refresh scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for its goroutine. Refreshes it
// triggered keep running; wait for them on the refresher.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("refresh scheduler stopped")
	}
}

func (rs *RefreshScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow()

	for {
		select {
		case <-ticker.C:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one freshness check and reports whether a refresh was
// triggered or is already in flight.
func (rs *RefreshScheduler) RunNow() bool {
	triggered := rs.Refresher.RefreshIfStale(context.Background())
	if triggered {
		rs.log.Info("scheduled check found stale facts")
	} else {
		rs.log.Debug("scheduled check found fresh facts")
	}
	return triggered
}
