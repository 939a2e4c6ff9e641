package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"tilepipe/internal/layer"
	"tilepipe/internal/logging"
	"tilepipe/internal/queue"
	"tilepipe/internal/services"
	"tilepipe/internal/stage"
	"tilepipe/internal/status"
	"tilepipe/internal/storage"
)

// ErrExists is returned by Submit when the id already has a status record.
var ErrExists = errors.New("layer already exists")

var layerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Backends is the subset of the opened backends the service needs.
type Backends interface {
	Chain() []stage.Definition
	Status() status.Store
	Queue(stageName string) (queue.Queue, error)
	Storage(stageName string) (storage.Provider, error)
}

// Service implements the request side of the pipeline: creating jobs,
// reporting their status, and reading artifacts.
type Service struct {
	backends Backends
	logger   *slog.Logger
}

// NewService constructs a Service. A nil logger discards output.
func NewService(backends Backends, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{backends: backends, logger: logging.NewComponentLogger(logger, "api")}
}

// Submit records the job as Processing and enqueues it on the first stage.
// If the enqueue fails the job is marked Failed so pollers do not wait on
// work that will never run.
func (s *Service) Submit(ctx context.Context, req Request) (Layer, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !layerIDPattern.MatchString(id) {
		return Layer{}, services.Wrap(services.ErrPayload, "", "submit", fmt.Sprintf("invalid layer id %q", id), nil)
	}
	location := strings.TrimSpace(req.DataLocation)
	if location == "" {
		return Layer{}, services.Wrap(services.ErrPayload, "", "submit", "dataLocation is required", nil)
	}

	first, err := s.firstQueue("submit")
	if err != nil {
		return Layer{}, err
	}

	store := s.backends.Status()
	if _, known, err := store.Get(ctx, id); err != nil {
		return Layer{}, services.Wrap(services.ErrStore, "", "submit", "read status", err)
	} else if known {
		return Layer{}, fmt.Errorf("%w: %s", ErrExists, id)
	}

	body, err := layer.Message{
		JobID:          id,
		SourceLocation: location,
		LayerName:      strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
	}.Encode()
	if err != nil {
		return Layer{}, err
	}

	if err := store.Update(ctx, id, layer.StatusProcessing); err != nil {
		return Layer{}, services.Wrap(services.ErrStore, "", "submit", "write status", err)
	}
	messageID, err := first.Enqueue(ctx, body)
	if err != nil {
		if markErr := store.Update(ctx, id, layer.StatusFailed); markErr != nil {
			s.logger.Error("failed to mark unqueued layer failed",
				logging.String(logging.FieldJobID, id),
				logging.Error(markErr),
				logging.String(logging.FieldEventType, "status_write_failed"),
			)
		}
		return Layer{}, services.Wrap(services.ErrQueue, "", "submit", first.Name(), err)
	}

	s.logger.Info("layer submitted",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldQueue, first.Name()),
		logging.String(logging.FieldMessageID, messageID),
		logging.String("source", location),
		logging.String(logging.FieldEventType, "layer_submitted"),
	)
	return Layer{ID: id, Status: layer.StatusProcessing.String()}, nil
}

func (s *Service) firstQueue(op string) (queue.Queue, error) {
	chain := s.backends.Chain()
	if len(chain) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", op, "no stages configured", nil)
	}
	return s.backends.Queue(chain[0].Name)
}

// Status returns the job's current status.
func (s *Service) Status(ctx context.Context, id string) (Layer, error) {
	id = strings.TrimSpace(id)
	st, known, err := s.backends.Status().Get(ctx, id)
	if err != nil {
		return Layer{}, services.Wrap(services.ErrStore, "", "status", id, err)
	}
	if !known {
		return Layer{}, services.Wrap(services.ErrNotFound, "", "status", fmt.Sprintf("layer %q", id), nil)
	}
	return Layer{ID: id, Status: st.String()}, nil
}

// Retry resets a job to Processing so a message left on a queue is processed
// on its next delivery. When req.DataLocation is set, a fresh first-stage
// message is enqueued as well.
func (s *Service) Retry(ctx context.Context, id string, req RetryRequest) (RetryResult, error) {
	current, err := s.Status(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}
	id = current.ID
	store := s.backends.Status()
	if err := store.Update(ctx, id, layer.StatusProcessing); err != nil {
		return RetryResult{}, services.Wrap(services.ErrStore, "", "retry", "write status", err)
	}
	result := RetryResult{
		Layer:       Layer{ID: id, Status: layer.StatusProcessing.String()},
		PriorStatus: current.Status,
	}

	if location := strings.TrimSpace(req.DataLocation); location != "" {
		first, err := s.firstQueue("retry")
		if err != nil {
			return result, err
		}
		body, err := layer.Message{
			JobID:          id,
			SourceLocation: location,
			LayerName:      strings.TrimSpace(req.Name),
			Description:    strings.TrimSpace(req.Description),
		}.Encode()
		if err != nil {
			return result, err
		}
		if _, err := first.Enqueue(ctx, body); err != nil {
			return result, services.Wrap(services.ErrQueue, "", "retry", first.Name(), err)
		}
		result.Requeued = true
	}

	s.logger.Info("layer retried",
		logging.String(logging.FieldJobID, id),
		logging.String("prior_status", current.Status),
		logging.Bool("requeued", result.Requeued),
		logging.String(logging.FieldEventType, "layer_retried"),
	)
	return result, nil
}

// Artifacts lists what the named stage has stored.
func (s *Service) Artifacts(ctx context.Context, stageName string) (ArtifactList, error) {
	provider, err := s.backends.Storage(stageName)
	if err != nil {
		return ArtifactList{}, err
	}
	names, err := provider.List(ctx)
	if err != nil {
		return ArtifactList{}, err
	}
	if names == nil {
		names = []string{}
	}
	return ArtifactList{
		Stage:     strings.ToLower(strings.TrimSpace(stageName)),
		Container: provider.Container(),
		Names:     names,
	}, nil
}

// Fetch copies a stored artifact to outputPath when the local copy is missing
// or older. It reports whether a copy happened.
func (s *Service) Fetch(ctx context.Context, stageName, name, outputPath string) (bool, error) {
	provider, err := s.backends.Storage(stageName)
	if err != nil {
		return false, err
	}
	return provider.GetIfNewer(ctx, name, outputPath)
}

// FetchLayer fetches the final-stage artifact of a job.
func (s *Service) FetchLayer(ctx context.Context, id, outputPath string) (bool, error) {
	chain := s.backends.Chain()
	if len(chain) == 0 {
		return false, services.Wrap(services.ErrConfiguration, "", "fetch layer", "no stages configured", nil)
	}
	final := chain[len(chain)-1]
	return s.Fetch(ctx, final.Name, final.OutputName(strings.TrimSpace(id)), outputPath)
}

// QueueStats reports the depth of every stage queue. A stage whose backend
// cannot be read carries the error instead of counts.
func (s *Service) QueueStats(ctx context.Context) []QueueStat {
	chain := s.backends.Chain()
	out := make([]QueueStat, 0, len(chain))
	for _, def := range chain {
		stat := QueueStat{Stage: def.Name, Queue: def.Queue}
		q, err := s.backends.Queue(def.Name)
		if err != nil {
			stat.Error = err.Error()
			out = append(out, stat)
			continue
		}
		stats, err := q.Stats(ctx)
		if err != nil {
			stat.Error = err.Error()
		} else {
			stat.Visible = stats.Visible
			stat.InFlight = stats.InFlight
		}
		out = append(out, stat)
	}
	return out
}
