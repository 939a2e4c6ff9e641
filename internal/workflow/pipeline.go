package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tilepipe/internal/logging"
	"tilepipe/internal/queue"
)

// Pipeline runs one goroutine per stage worker.
type Pipeline struct {
	workers []*Worker
	logger  *slog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline composes workers in stage order.
func NewPipeline(logger *slog.Logger, workers ...*Worker) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Workers returns the workers in stage order.
func (p *Pipeline) Workers() []*Worker { return p.workers }

// Start begins background processing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(p.workers) == 0 {
		p.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(len(p.workers))
	p.mu.Unlock()

	for _, w := range p.workers {
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	p.logger.Info("pipeline started",
		logging.Int("stages", len(p.workers)),
		logging.String(logging.FieldEventType, "pipeline_start"),
	)
	return nil
}

// Stop cancels polling and waits for every in-flight message to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("pipeline stopped", logging.String(logging.FieldEventType, "pipeline_stop"))
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// WorkerStatus is a snapshot of one worker's counters and queue depth.
type WorkerStatus struct {
	Stage       string            `json:"stage"`
	Queue       string            `json:"queue"`
	Final       bool              `json:"final"`
	Counts      map[Outcome]int64 `json:"counts"`
	LastJobID   string            `json:"last_job_id,omitempty"`
	LastOutcome Outcome           `json:"last_outcome,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	LastCycle   time.Time         `json:"last_cycle"`
	QueueStats  *queue.Stats      `json:"queue_stats,omitempty"`
	StatsError  string            `json:"stats_error,omitempty"`
}

// StatusSummary represents lightweight pipeline diagnostics.
type StatusSummary struct {
	Running bool           `json:"running"`
	Stages  []WorkerStatus `json:"stages"`
}

// Summary returns per-stage counters, last errors, and queue depth.
func (p *Pipeline) Summary(ctx context.Context) StatusSummary {
	summary := StatusSummary{Running: p.Running()}
	for _, w := range p.workers {
		summary.Stages = append(summary.Stages, w.Status(ctx))
	}
	return summary
}

// Status snapshots the worker's counters and its queue's depth.
func (w *Worker) Status(ctx context.Context) WorkerStatus {
	w.mu.RLock()
	st := WorkerStatus{
		Stage:       w.def.Name,
		Queue:       w.queue.Name(),
		Final:       w.Final(),
		Counts:      make(map[Outcome]int64, len(w.counts)),
		LastJobID:   w.lastJobID,
		LastOutcome: w.lastOutcome,
		LastCycle:   w.lastCycle,
	}
	for k, v := range w.counts {
		st.Counts[k] = v
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	w.mu.RUnlock()

	stats, err := w.queue.Stats(ctx)
	if err != nil {
		st.StatsError = err.Error()
	} else {
		st.QueueStats = &stats
	}
	return st
}
