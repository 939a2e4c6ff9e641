package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tilepipe/internal/convert"
	"tilepipe/internal/logging"
	"tilepipe/internal/notifications"
	"tilepipe/internal/queue"
	"tilepipe/internal/services"
	"tilepipe/internal/stage"
	"tilepipe/internal/status"
	"tilepipe/internal/storage"
)

// Outcome classifies what one poll cycle did with the message it received.
type Outcome string

const (
	// OutcomeIdle means the queue was empty or could not be read.
	OutcomeIdle Outcome = "idle"
	// OutcomeProcessed means the message was converted, handed on, and deleted.
	OutcomeProcessed Outcome = "processed"
	// OutcomeVoid means the message carried no source and was deleted.
	OutcomeVoid Outcome = "void"
	// OutcomeRejected means the payload could not be parsed; it stays queued.
	OutcomeRejected Outcome = "rejected"
	// OutcomeSkipped means the job already failed; the message stays queued.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate means the job already completed; the message was deleted.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed means processing failed; the job is marked Failed and the
	// message stays queued.
	OutcomeFailed Outcome = "failed"
)

// Fetcher resolves a source location into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, location, destDir string) (string, error)
}

// WorkerConfig wires a Worker to its collaborators.
type WorkerConfig struct {
	Stage     stage.Definition
	Queue     queue.Queue
	Next      queue.Queue // nil for the final stage
	Status    status.Store
	Storage   storage.Provider
	Fetcher   Fetcher
	Converter convert.Converter
	Notifier  notifications.Service // optional
	WorkDir   string
	Logger    *slog.Logger

	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	Lease              time.Duration
	LeaseRenewInterval time.Duration
}

// Worker runs one stage's poll loop. Messages are processed strictly one at a
// time.
type Worker struct {
	def       stage.Definition
	queue     queue.Queue
	next      queue.Queue
	status    status.Store
	storage   storage.Provider
	fetcher   Fetcher
	converter convert.Converter
	notifier  notifications.Service
	workDir   string
	logger    *slog.Logger

	pollInterval  time.Duration
	errorRetry    time.Duration
	lease         time.Duration
	renewInterval time.Duration

	mu          sync.RWMutex
	counts      map[Outcome]int64
	lastErr     error
	lastJobID   string
	lastOutcome Outcome
	lastCycle   time.Time
}

// NewWorker validates cfg and returns a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	switch {
	case strings.TrimSpace(cfg.Stage.Name) == "":
		return nil, services.Wrap(services.ErrConfiguration, "", "new worker", "stage name required", nil)
	case cfg.Queue == nil:
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "queue required", nil)
	case cfg.Status == nil:
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "status store required", nil)
	case cfg.Storage == nil:
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "storage provider required", nil)
	case cfg.Fetcher == nil:
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "fetcher required", nil)
	case cfg.Converter == nil:
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "converter required", nil)
	case strings.TrimSpace(cfg.WorkDir) == "":
		return nil, services.Wrap(services.ErrConfiguration, cfg.Stage.Name, "new worker", "work directory required", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	w := &Worker{
		def:           cfg.Stage,
		queue:         cfg.Queue,
		next:          cfg.Next,
		status:        cfg.Status,
		storage:       cfg.Storage,
		fetcher:       cfg.Fetcher,
		converter:     cfg.Converter,
		notifier:      notifier,
		workDir:       cfg.WorkDir,
		pollInterval:  cfg.PollInterval,
		errorRetry:    cfg.ErrorRetryInterval,
		lease:         cfg.Lease,
		renewInterval: cfg.LeaseRenewInterval,
		counts:        make(map[Outcome]int64),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.errorRetry <= 0 {
		w.errorRetry = w.pollInterval
	}
	w.logger = logging.NewComponentLogger(logger, "worker").With(
		logging.String(logging.FieldStage, cfg.Stage.Name),
		logging.String(logging.FieldQueue, cfg.Queue.Name()),
	)
	return w, nil
}

// Stage returns the worker's stage definition.
func (w *Worker) Stage() stage.Definition { return w.def }

// Queue returns the queue the worker consumes.
func (w *Worker) Queue() queue.Queue { return w.queue }

// Final reports whether the worker ends the chain.
func (w *Worker) Final() bool { return w.next == nil }

// Run polls until ctx is cancelled. A message in flight when ctx is
// cancelled is finished before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("stage worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.Bool("final", w.Final()),
	)
	defer w.logger.Info("stage worker stopped", logging.String(logging.FieldEventType, "worker_stop"))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		outcome, err := w.Cycle(ctx)
		wait := w.pollInterval
		if err != nil && outcome == OutcomeIdle {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.ErrorWithContext(w.logger, "failed to receive from queue", "queue_receive_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			)
			wait = w.errorRetry
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Cycle performs one receive-and-process step. The returned error is the
// failure the cycle reported, if any; the outcome says what happened to the
// message.
func (w *Worker) Cycle(ctx context.Context) (Outcome, error) {
	msg, err := w.queue.Receive(ctx)
	if err != nil {
		w.record(OutcomeIdle, "", err)
		return OutcomeIdle, err
	}
	if msg == nil {
		w.record(OutcomeIdle, "", nil)
		return OutcomeIdle, nil
	}

	// Shutdown must not interrupt a message that has been leased.
	procCtx := context.WithoutCancel(ctx)
	outcome, jobID, err := w.handle(procCtx, msg)
	w.record(outcome, jobID, err)
	return outcome, err
}

func (w *Worker) record(outcome Outcome, jobID string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCycle = time.Now()
	if outcome == OutcomeIdle && err == nil {
		return
	}
	w.counts[outcome]++
	w.lastOutcome = outcome
	if jobID != "" {
		w.lastJobID = jobID
	}
	if err != nil {
		w.lastErr = err
	}
}
