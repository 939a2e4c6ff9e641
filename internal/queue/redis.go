package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tilepipe/internal/services"
)

// requeueBatch bounds how many expired leases one Receive call recycles.
const requeueBatch = 100

// receiveScript recycles expired leases, then pops the oldest pending
// message and records a new lease for it.
//
// KEYS: pending, inflight, claims, deliveries
// ARGV: now_ms, deadline_ms, receipt, requeue_batch
var receiveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, r in ipairs(expired) do
  local raw = redis.call('HGET', KEYS[3], r)
  if raw then
    redis.call('RPUSH', KEYS[1], raw)
  end
  redis.call('HDEL', KEYS[3], r)
  redis.call('ZREM', KEYS[2], r)
end
local raw = redis.call('RPOP', KEYS[1])
if not raw then
  return false
end
redis.call('HSET', KEYS[3], ARGV[3], raw)
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
local env = cjson.decode(raw)
local n = redis.call('HINCRBY', KEYS[4], env.id, 1)
return {raw, n}
`)

// deleteScript drops a lease and its message when the receipt still owns it.
//
// KEYS: inflight, claims, deliveries
// ARGV: receipt, id
var deleteScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[2])
return 1
`)

// extendScript moves a live lease deadline.
//
// KEYS: inflight
// ARGV: receipt, deadline_ms
var extendScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
  return 1
end
return 0
`)

type redisEnvelope struct {
	ID         string `json:"id"`
	Body       []byte `json:"body"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Redis is a queue stored in four keys: a pending list, an in-flight sorted
// set scored by lease deadline, a receipt to message hash, and a per-message
// delivery counter hash.
type Redis struct {
	client *redis.Client
	name   string
	lease  time.Duration
	prefix string
}

// NewRedis returns the named queue on client.
func NewRedis(client *redis.Client, keyPrefix, name string, lease time.Duration) *Redis {
	return &Redis{
		client: client,
		name:   name,
		lease:  lease,
		prefix: fmt.Sprintf("%s:queue:%s", keyPrefix, name),
	}
}

func (q *Redis) pendingKey() string    { return q.prefix + ":pending" }
func (q *Redis) inflightKey() string   { return q.prefix + ":inflight" }
func (q *Redis) claimsKey() string     { return q.prefix + ":claims" }
func (q *Redis) deliveriesKey() string { return q.prefix + ":deliveries" }

func (q *Redis) Name() string { return q.name }

func (q *Redis) Enqueue(ctx context.Context, body []byte) (string, error) {
	env := redisEnvelope{ID: uuid.NewString(), Body: body, EnqueuedAt: time.Now().UnixMilli()}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "encode envelope", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "", err)
	}
	return env.ID, nil
}

func (q *Redis) Receive(ctx context.Context) (*Leased, error) {
	now := time.Now()
	receipt := uuid.NewString()
	res, err := receiveScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.inflightKey(), q.claimsKey(), q.deliveriesKey()},
		now.UnixMilli(), now.Add(q.lease).UnixMilli(), receipt, requeueBatch,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, q.name, "receive", "", err)
	}
	if len(res) != 2 {
		return nil, services.Wrap(services.ErrQueue, q.name, "receive", fmt.Sprintf("unexpected script reply %v", res), nil)
	}
	raw, _ := res[0].(string)
	count, _ := res[1].(int64)

	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, services.Wrap(services.ErrQueue, q.name, "receive", "decode envelope", err)
	}
	return &Leased{
		ID:            env.ID,
		Body:          env.Body,
		DeliveryCount: int(count),
		EnqueuedAt:    time.UnixMilli(env.EnqueuedAt),
		receipt:       receipt,
	}, nil
}

func (q *Redis) Delete(ctx context.Context, msg *Leased) error {
	n, err := deleteScript.Run(ctx, q.client,
		[]string{q.inflightKey(), q.claimsKey(), q.deliveriesKey()},
		msg.receipt, msg.ID,
	).Int()
	if err != nil {
		return services.Wrap(services.ErrQueue, q.name, "delete", msg.ID, err)
	}
	if n == 0 {
		return services.Wrap(services.ErrQueue, q.name, "delete", msg.ID, ErrLeaseLost)
	}
	return nil
}

func (q *Redis) Extend(ctx context.Context, msg *Leased, d time.Duration) error {
	n, err := extendScript.Run(ctx, q.client,
		[]string{q.inflightKey()},
		msg.receipt, time.Now().Add(d).UnixMilli(),
	).Int()
	if err != nil {
		return services.Wrap(services.ErrQueue, q.name, "extend lease", msg.ID, err)
	}
	if n == 0 {
		return services.Wrap(services.ErrQueue, q.name, "extend lease", msg.ID, ErrLeaseLost)
	}
	return nil
}

func (q *Redis) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.pendingKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, services.Wrap(services.ErrQueue, q.name, "stats", "", err)
	}
	return Stats{Visible: int(pending.Val()), InFlight: int(inflight.Val())}, nil
}
