package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tilepipe/internal/api"
	"tilepipe/internal/config"
	"tilepipe/internal/deps"
	"tilepipe/internal/logging"
	"tilepipe/internal/preflight"
	"tilepipe/internal/stage"
	"tilepipe/internal/staging"
	"tilepipe/internal/workflow"
)

// Daemon coordinates the stage workers and the HTTP API, and enforces
// single-instance execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline *workflow.Pipeline
	service  *api.Service
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	Pipeline     api.PipelineStatus `json:"pipeline"`
	APIAddress   string             `json:"apiAddress,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
}

// Health is the readiness report served by the health endpoint.
type Health struct {
	Ready        bool           `json:"ready"`
	Stages       []stage.Health `json:"stages"`
	Dependencies []deps.Status  `json:"dependencies"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, pipeline *workflow.Pipeline, service *api.Service) (*Daemon, error) {
	if cfg == nil || pipeline == nil || service == nil {
		return nil, errors.New("daemon requires config, pipeline, and api service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "tilepipe.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		pipeline: pipeline,
		service:  service,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg.Paths.APIBind, d, logger)
	return d, nil
}

// Start acquires the daemon lock, removes stale workspaces, and launches the
// stage workers and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tilepipe daemon instance is already running")
	}

	d.runPreflight(ctx)
	staging.CleanStale(ctx, d.cfg.Paths.WorkDir, d.cfg.WorkspaceMaxAge(), d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.pipeline.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("tilepipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop shuts down the API, waits for in-flight conversions, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
		)
	}
	d.running.Store(false)
	d.logger.Info("tilepipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddress returns the bound HTTP address once started.
func (d *Daemon) APIAddress() string { return d.server.address() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Pipeline:     api.FromStatusSummary(d.pipeline.Summary(ctx)),
		APIAddress:   d.server.address(),
		LockFilePath: d.lockPath,
	}
}

// Health reports converter availability and per-stage readiness. A stage is
// ready when its converter resolves and its queue can be read.
func (d *Daemon) Health(ctx context.Context) Health {
	statuses := preflight.CheckSystemDeps(d.cfg)
	byName := make(map[string]deps.Status, len(statuses))
	for _, s := range statuses {
		byName[s.Command] = s
	}

	health := Health{Dependencies: statuses, Ready: deps.AllRequiredAvailable(statuses)}
	for _, w := range d.pipeline.Workers() {
		name := w.Stage().Name
		st := w.Status(ctx)
		binary := d.binaryFor(name)
		switch dep, ok := byName[binary]; {
		case ok && !dep.Available:
			health.Stages = append(health.Stages, stage.Unhealthy(name, dep.Detail))
			health.Ready = false
		case st.StatsError != "":
			health.Stages = append(health.Stages, stage.Unhealthy(name, "queue unavailable: "+st.StatsError))
			health.Ready = false
		default:
			health.Stages = append(health.Stages, stage.Healthy(name))
		}
	}
	return health
}

func (d *Daemon) binaryFor(stageName string) string {
	switch stageName {
	case stage.GDAL:
		return d.cfg.Stages.GDAL.Binary
	case stage.Tiles:
		return d.cfg.Stages.Tiles.Binary
	}
	return ""
}

func (d *Daemon) runPreflight(ctx context.Context) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run tilepipe deps for details"),
			logging.String(logging.FieldImpact, "affected stages will mark jobs Failed"),
		)
	}
}
