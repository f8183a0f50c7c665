package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"telecast/internal/config"
	"telecast/internal/logging"
	"telecast/internal/poller"
	"telecast/internal/reconcile"
	"telecast/internal/store"
)

// Daemon coordinates the scheduler and API server and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	scheduler  *poller.Scheduler
	reconciler *reconcile.Reconciler
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DBPath       string
	LockFilePath string
	LastCycleAt  time.Time
	LastCycleErr string
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	st *store.Store,
	scheduler *poller.Scheduler,
	reconciler *reconcile.Reconciler,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || st == nil || scheduler == nil {
		return nil, errors.New("daemon requires config, store, and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "telecast.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		scheduler:  scheduler,
		reconciler: reconciler,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, optionally runs a startup
// reconciliation, and launches the scheduler and API server. It returns once
// everything is running; Wait or Stop controls the rest of the lifecycle.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another telecast instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.cfg.Workflow.ReconcileOnStartup && d.reconciler != nil {
		if _, err := d.reconciler.Run(d.ctx); err != nil {
			d.logger.Error("startup reconciliation failed", logging.Error(err))
		}
	}

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			return err
		}
	}

	// Captured before the goroutine launches so a prompt Stop cannot race the
	// field read.
	runCtx := d.ctx
	go func() {
		if err := d.scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("scheduler stopped", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("telecast daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pid", os.Getpid()))
	return nil
}

// Wait blocks until the daemon's context ends.
func (d *Daemon) Wait() {
	if d.ctx != nil {
		<-d.ctx.Done()
	}
}

// Stop shuts everything down and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("telecast daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
	}
	lastRun, lastErr := d.scheduler.Status()
	status.LastCycleAt = lastRun
	if lastErr != nil {
		status.LastCycleErr = lastErr.Error()
	}
	return status
}

// TriggerCycle dispatches an immediate cycle on the daemon's own context so
// it outlives the requesting call; false means one is already running.
func (d *Daemon) TriggerCycle(opts poller.CycleOptions) bool {
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return d.scheduler.TriggerAsync(ctx, opts)
}

// Reconcile runs a reconciliation sweep.
func (d *Daemon) Reconcile(ctx context.Context) (reconcile.Report, error) {
	if d.reconciler == nil {
		return reconcile.Report{}, errors.New("reconciliation not configured")
	}
	return d.reconciler.Run(ctx)
}
