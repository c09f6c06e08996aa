// Package daemon wires configuration, storage, the ledger, the claim workflow
// and the HTTP API into one running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mutual-aid/timebank/internal/api"
	"github.com/mutual-aid/timebank/internal/app/claims"
	"github.com/mutual-aid/timebank/internal/app/ledger"
	"github.com/mutual-aid/timebank/internal/infra/logging"
	"github.com/mutual-aid/timebank/internal/infra/sqlite"
)

const shutdownTimeout = 10 * time.Second

// Daemon holds every engine component.
type Daemon struct {
	Config Config
	Log    logging.Logger
	DB     *sqlite.DB
	Ledger *ledger.Service
	Claims *claims.Workflow

	api *api.Server
}

// New opens the database and builds the components described by cfg.
func New(cfg Config, logger logging.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Log.Level, cfg.Log.Format); err != nil {
			return nil, err
		}
	}

	db, err := sqlite.Open(cfg.Database.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{Config: cfg, Log: logger, DB: db}
	d.Ledger = ledger.NewService(cfg.LedgerSettings(), db, logger)
	d.Claims = claims.New(cfg.ClaimSettings(), db, db, d.Ledger, logger)

	d.api = api.NewServer(d.Ledger, d.Claims, db, cfg.API.Admins, logger)
	d.api.SetHealthCheck(db.Ping)
	if cfg.Metrics.Enabled {
		d.api.EnableMetrics()
	}
	return d, nil
}

// Handler returns the HTTP handler serving the API.
func (d *Daemon) Handler() http.Handler { return d.api.Handler() }

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.Config.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Log.WithField("addr", srv.Addr).Info("time bank API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.Log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the database.
func (d *Daemon) Close() error {
	return d.DB.Close()
}
