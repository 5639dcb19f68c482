// Package app wires the store, the export client, the refresh pipeline and
// the review service from a Config. Both binaries start here.
package app

import (
	"fmt"

	"github.com/geekane/1127jixiao/config"
	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/extract"
	"github.com/geekane/1127jixiao/review"
	"github.com/geekane/1127jixiao/scoring"
	"github.com/geekane/1127jixiao/store/sqlite"
	"github.com/geekane/1127jixiao/transform"
	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Store     *sqlite.Store
	Refresher *etl.Refresher
	Service   *review.Service
}

// Open opens the store at cfg.DBPath and wires everything on top of it.
func Open(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if !cfg.ExportConfigured() {
		log.Warn("export service not configured, refreshes will fail",
			zap.String("hint", "set EXPORT_API_URL and EXPORT_COOKIE"))
	}

	gate := etl.NewGate(store, nil, log.Named("freshness"))
	refresher := etl.NewRefresher(etl.RefresherDeps{
		Extractor: extract.New(cfg.Export, log.Named("extract")),
		Transform: transform.Source,
		Loader:    etl.NewLoader(store, log.Named("loader")),
		Gate:      gate,
		Runs:      store,
		Logger:    log.Named("refresh"),
	})

	svc := review.New(review.Deps{
		Store:      store,
		Refresher:  refresher,
		Gate:       gate,
		Engine:     scoring.NewEngine(log.Named("scoring")),
		Department: cfg.DefaultDepartment,
		Logger:     log.Named("review"),
	})

	return &App{Store: store, Refresher: refresher, Service: svc}, nil
}

// Close waits for background refreshes and closes the store.
func (a *App) Close() error {
	a.Refresher.Wait()
	return a.Store.Close()
}
