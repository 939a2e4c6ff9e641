package status

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"tilepipe/internal/layer"
	"tilepipe/internal/services"
)

// Redis stores statuses as fields of a single hash.
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedis builds a status store on an existing client. The client is not
// closed by Close unless owned is true.
func NewRedis(client *redis.Client, keyPrefix string, owned bool) *Redis {
	return &Redis{client: client, key: keyPrefix + ":statuses", owned: owned}
}

func (r *Redis) Get(ctx context.Context, id string) (layer.Status, bool, error) {
	raw, err := r.client.HGet(ctx, r.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "", "get status", id, err)
	}
	st, err := layer.ParseStatus(raw)
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "", "get status", id, err)
	}
	return st, true, nil
}

func (r *Redis) Update(ctx context.Context, id string, st layer.Status) error {
	if err := r.client.HSet(ctx, r.key, id, string(st)).Err(); err != nil {
		return services.Wrap(services.ErrStore, "", "update status", id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
