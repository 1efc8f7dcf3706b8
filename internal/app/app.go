// Package app wires the wins core together in startup order:
// open the store, apply migrations, load the view, start reconciliation.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/wins/internal/metrics"
	"github.com/roach88/wins/internal/migrate"
	"github.com/roach88/wins/internal/reconcile"
	"github.com/roach88/wins/internal/store"
)

// Phase is the coarse migration status shown by a loading/error screen.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// Status is the value returned by MigrationStatus. Reason is set only when
// Phase is PhaseFailed.
type Status struct {
	Phase   Phase  `json:"phase" yaml:"phase"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Applied int    `json:"applied" yaml:"applied"`
}

func (s Status) String() string {
	if s.Phase == PhaseFailed {
		return fmt.Sprintf("%s: %s", s.Phase, s.Reason)
	}
	return string(s.Phase)
}

// Options configures an App. Only DBPath is required.
type Options struct {
	DBPath         string
	PersistTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Registry       *migrate.Registry
	StoreOptions   []store.Option
	LayerOptions   []reconcile.Option
}

// App owns the store and the reconciliation layer for one session.
type App struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	status Status

	store  *store.Store
	layer  *reconcile.Layer
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an App in PhasePending. Nothing is opened until Start.
func New(opts Options) *App {
	if opts.Registry == nil {
		opts.Registry = migrate.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		opts:   opts,
		log:    log,
		status: Status{Phase: PhasePending},
	}
}

// Start runs the startup sequence. A *migrate.MigrationError is fatal: the
// store is closed, MigrationStatus reports PhaseFailed and the App must not
// be used further.
func (a *App) Start(ctx context.Context) error {
	st, err := store.Open(a.opts.DBPath, a.opts.StoreOptions...)
	if err != nil {
		a.fail(err)
		return err
	}

	a.log.Debug("applying migrations", zap.String("db", a.opts.DBPath))
	applied, err := a.opts.Registry.ApplyPending(ctx, st.DB())
	a.opts.Metrics.Migrated(applied)
	if err != nil {
		st.Close()
		a.fail(err)
		a.log.Error("migration failed", zap.Error(err))
		return err
	}
	a.setStatus(Status{Phase: PhaseReady, Applied: applied})
	a.log.Info("database ready", zap.String("db", a.opts.DBPath), zap.Int("applied", applied))

	layerOpts := []reconcile.Option{
		reconcile.WithLogger(a.log),
		reconcile.WithMetrics(a.opts.Metrics),
	}
	if a.opts.PersistTimeout > 0 {
		layerOpts = append(layerOpts, reconcile.WithPersistTimeout(a.opts.PersistTimeout))
	}
	layer := reconcile.New(st, append(layerOpts, a.opts.LayerOptions...)...)

	if err := layer.Load(ctx); err != nil {
		st.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := layer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("reconcile loop stopped", zap.Error(err))
		}
	}()

	a.mu.Lock()
	a.store = st
	a.layer = layer
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()
	return nil
}

// MigrationStatus reports Pending before Start, then Ready or Failed.
func (a *App) MigrationStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Layer returns the reconciliation layer, or nil before a successful Start.
func (a *App) Layer() *reconcile.Layer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.layer
}

// Store returns the durable store, or nil before a successful Start.
func (a *App) Store() *store.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

// Close waits (bounded by ctx) for in-flight appends, stops the
// reconciliation loop and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	layer, st, cancel, done := a.layer, a.store, a.cancel, a.done
	a.layer, a.store = nil, nil
	a.mu.Unlock()

	if layer == nil {
		return nil
	}

	settleErr := layer.Settle(ctx)
	if settleErr != nil {
		a.log.Warn("closing with appends in flight", zap.Error(settleErr))
		cancel()
	}
	layer.Close()
	<-done
	cancel()

	if err := st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return settleErr
}

func (a *App) fail(err error) {
	a.setStatus(Status{Phase: PhaseFailed, Reason: err.Error()})
}

func (a *App) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}
