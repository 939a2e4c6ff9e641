package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tilepipe/internal/config"
	"tilepipe/internal/convert"
	"tilepipe/internal/logging"
	"tilepipe/internal/notifications"
	"tilepipe/internal/queue"
	"tilepipe/internal/services"
	"tilepipe/internal/stage"
	"tilepipe/internal/status"
	"tilepipe/internal/storage"
	"tilepipe/internal/workflow"
)

const postgresDialTimeout = 10 * time.Second

// Purger is implemented by queue backends that can drop every message.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Set is the opened queue, status, and storage backends for one process.
type Set struct {
	cfg    *config.Config
	logger *slog.Logger
	chain  []stage.Definition

	status   status.Store
	queues   map[string]queue.Queue
	storages map[string]storage.Provider
	fetcher  *storage.Fetcher
	notifier notifications.Service

	closers []func() error
}

// Open connects every backend selected in cfg. On error, anything already
// opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "open backends", "config is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Set{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "backend"),
		chain:    stage.Chain(cfg),
		queues:   make(map[string]queue.Queue),
		storages: make(map[string]storage.Provider),
		notifier: notifications.NewService(cfg),
	}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Info("backends ready",
		logging.String("queue_backend", cfg.Backend.Queue),
		logging.String("status_backend", cfg.Backend.Status),
		logging.String("storage_backend", cfg.Backend.Storage),
		logging.String(logging.FieldEventType, "backends_ready"),
	)
	return s, nil
}

func (s *Set) open(ctx context.Context) error {
	var redisClient *redis.Client
	needsRedis := s.cfg.Backend.Queue == config.QueueRedis || s.cfg.Backend.Status == config.StatusRedis
	if needsRedis {
		opts, err := redis.ParseURL(s.cfg.Redis.URL)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "", "open redis", "parse redis.url", err)
		}
		redisClient = redis.NewClient(opts)
		s.closers = append(s.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return services.Wrap(services.ErrQueue, "", "open redis", opts.Addr, err)
		}
	}

	if err := s.openStatus(ctx, redisClient); err != nil {
		return err
	}
	if err := s.openQueues(ctx, redisClient); err != nil {
		return err
	}
	return s.openStorage(ctx)
}

func (s *Set) openStatus(ctx context.Context, redisClient *redis.Client) error {
	switch s.cfg.Backend.Status {
	case config.StatusSQLite:
		st, err := status.OpenSQLite(ctx, s.cfg.StatusDBPath())
		if err != nil {
			return err
		}
		s.status = st
	case config.StatusRedis:
		s.status = status.NewRedis(redisClient, s.cfg.Redis.KeyPrefix, false)
	case config.StatusPostgres:
		st, err := status.OpenPostgres(ctx, status.PostgresOptions{
			DSN:         s.cfg.Postgres.DSN,
			Table:       s.cfg.Postgres.Table,
			Workspace:   s.cfg.Postgres.Workspace,
			DialTimeout: postgresDialTimeout,
		})
		if err != nil {
			return err
		}
		s.status = st
	default:
		return services.Wrap(services.ErrConfiguration, "", "open status", fmt.Sprintf("unknown backend %q", s.cfg.Backend.Status), nil)
	}
	s.closers = append(s.closers, s.status.Close)
	return nil
}

func (s *Set) openQueues(ctx context.Context, redisClient *redis.Client) error {
	lease := s.cfg.Lease()
	switch s.cfg.Backend.Queue {
	case config.QueueSQLite:
		store, err := queue.OpenSQLite(ctx, s.cfg.QueueDBPath())
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store.Close)
		for _, def := range s.chain {
			s.queues[def.Name] = store.Queue(def.Queue, lease)
		}
	case config.QueueRedis:
		for _, def := range s.chain {
			s.queues[def.Name] = queue.NewRedis(redisClient, s.cfg.Redis.KeyPrefix, def.Queue, lease)
		}
	case config.QueueAMQP:
		broker, err := queue.DialAMQP(s.cfg.AMQP.URL, s.cfg.AMQP.QueuePrefix)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, broker.Close)
		for _, def := range s.chain {
			q, err := broker.Queue(def.Queue, lease)
			if err != nil {
				return err
			}
			s.queues[def.Name] = q
		}
	default:
		return services.Wrap(services.ErrConfiguration, "", "open queues", fmt.Sprintf("unknown backend %q", s.cfg.Backend.Queue), nil)
	}
	return nil
}

func (s *Set) openStorage(ctx context.Context) error {
	fetchOpts := []storage.FetcherOption{}
	switch s.cfg.Backend.Storage {
	case config.StorageLocal:
		for _, def := range s.chain {
			local, err := storage.NewLocal(s.cfg.Paths.StorageDir, def.Container)
			if err != nil {
				return err
			}
			s.storages[def.Name] = local
			fetchOpts = append(fetchOpts, storage.WithResolver(local))
		}
	case config.StorageObjectStore:
		client, err := storage.NewObjectStoreClient(storage.ObjectStoreOptions{
			Endpoint:  s.cfg.ObjectStore.Endpoint,
			AccessKey: s.cfg.ObjectStore.AccessKey,
			SecretKey: s.cfg.ObjectStore.SecretKey,
			Region:    s.cfg.ObjectStore.Region,
			UseSSL:    s.cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return err
		}
		for _, def := range s.chain {
			obj, err := storage.NewObjectStore(ctx, client, s.cfg.ObjectStore.BucketPrefix, def.Container, s.cfg.ObjectStore.Region)
			if err != nil {
				return err
			}
			s.storages[def.Name] = obj
		}
		fetchOpts = append(fetchOpts, storage.WithObjectClient(client))
	default:
		return services.Wrap(services.ErrConfiguration, "", "open storage", fmt.Sprintf("unknown backend %q", s.cfg.Backend.Storage), nil)
	}
	s.fetcher = storage.NewFetcher(s.cfg.DownloadTimeout(), fetchOpts...)
	return nil
}

// Chain returns the stage definitions in processing order.
func (s *Set) Chain() []stage.Definition { return s.chain }

// Status returns the status store.
func (s *Set) Status() status.Store { return s.status }

// Fetcher returns the source resolver shared by every stage.
func (s *Set) Fetcher() *storage.Fetcher { return s.fetcher }

// Queue returns the input queue of the named stage.
func (s *Set) Queue(stageName string) (queue.Queue, error) {
	q, ok := s.queues[normalize(stageName)]
	if !ok {
		return nil, unknownStage(stageName)
	}
	return q, nil
}

// Storage returns the artifact container of the named stage.
func (s *Set) Storage(stageName string) (storage.Provider, error) {
	p, ok := s.storages[normalize(stageName)]
	if !ok {
		return nil, unknownStage(stageName)
	}
	return p, nil
}

// Notifier returns the job outcome notifier.
func (s *Set) Notifier() notifications.Service { return s.notifier }

// Purge drops every message on the named stage's queue.
func (s *Set) Purge(ctx context.Context, stageName string) (int64, error) {
	q, err := s.Queue(stageName)
	if err != nil {
		return 0, err
	}
	p, ok := q.(Purger)
	if !ok {
		return 0, services.Wrap(services.ErrConfiguration, stageName, "purge queue",
			fmt.Sprintf("%s queue backend does not support purge", s.cfg.Backend.Queue), nil)
	}
	return p.Purge(ctx)
}

// Converter builds the converter used by the named stage.
func (s *Set) Converter(stageName string, opts ...convert.Option) (convert.Converter, error) {
	opts = append([]convert.Option{convert.WithTimeout(s.cfg.ToolTimeout())}, opts...)
	switch normalize(stageName) {
	case stage.GDAL:
		conv, err := convert.NewOgr2Ogr(s.cfg.Stages.GDAL.Binary, s.cfg.Stages.GDAL.TargetSRS, opts...)
		if err != nil {
			return nil, err
		}
		return conv, nil
	case stage.Tiles:
		t := s.cfg.Stages.Tiles
		conv, err := convert.NewTippecanoe(t.Binary, t.MinZoom, t.MaxZoom, t.ExtraArgs, opts...)
		if err != nil {
			return nil, err
		}
		return conv, nil
	default:
		return nil, unknownStage(stageName)
	}
}

// Workers builds one worker per stage, each handing off to the next stage's
// queue. The last stage marks jobs Complete.
func (s *Set) Workers(logger *slog.Logger) ([]*workflow.Worker, error) {
	workers := make([]*workflow.Worker, 0, len(s.chain))
	for i, def := range s.chain {
		conv, err := s.Converter(def.Name, convert.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		var next queue.Queue
		if i+1 < len(s.chain) {
			next = s.queues[s.chain[i+1].Name]
		}
		w, err := workflow.NewWorker(workflow.WorkerConfig{
			Stage:              def,
			Queue:              s.queues[def.Name],
			Next:               next,
			Status:             s.status,
			Storage:            s.storages[def.Name],
			Fetcher:            s.fetcher,
			Converter:          conv,
			Notifier:           s.notifier,
			WorkDir:            s.cfg.Paths.WorkDir,
			Logger:             logger,
			PollInterval:       s.cfg.PollInterval(),
			ErrorRetryInterval: s.cfg.ErrorRetryInterval(),
			Lease:              s.cfg.Lease(),
			LeaseRenewInterval: s.cfg.LeaseRenewInterval(),
		})
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// Pipeline builds the full worker chain.
func (s *Set) Pipeline(logger *slog.Logger) (*workflow.Pipeline, error) {
	workers, err := s.Workers(logger)
	if err != nil {
		return nil, err
	}
	return workflow.NewPipeline(logger, workers...), nil
}

// Close releases every backend in reverse open order.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func unknownStage(name string) error {
	return services.Wrap(services.ErrConfiguration, "", "lookup stage", fmt.Sprintf("unknown stage %q", name), nil)
}
