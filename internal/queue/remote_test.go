package queue_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tilepipe/internal/queue"
)

// exerciseLeaseSemantics runs the shared at-least-once contract against a
// live backend configured with a short lease.
func exerciseLeaseSemantics(t *testing.T, q queue.Queue, lease time.Duration) {
	t.Helper()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"LayerId":"abc"}`))
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	first, err := q.Receive(ctx)
	if err != nil || first == nil {
		t.Fatalf("Receive returned %v, %v", first, err)
	}
	if first.ID != id || first.DeliveryCount != 1 {
		t.Fatalf("unexpected first delivery: %+v", first)
	}
	if hidden, err := q.Receive(ctx); err != nil || hidden != nil {
		t.Fatalf("expected leased message hidden, got %v, %v", hidden, err)
	}

	time.Sleep(lease + 250*time.Millisecond)
	again, err := q.Receive(ctx)
	if err != nil || again == nil {
		t.Fatalf("expected redelivery, got %v, %v", again, err)
	}
	if again.ID != id || again.DeliveryCount < 2 {
		t.Fatalf("unexpected redelivery: %+v", again)
	}
	if err := q.Delete(ctx, first); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected stale receipt rejected, got %v", err)
	}
	if err := q.Delete(ctx, again); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if n, err := queue.Len(ctx, q); err != nil || n != 0 {
		t.Fatalf("expected empty queue, got %d (%v)", n, err)
	}
}

func TestRedisQueueLeaseSemantics(t *testing.T) {
	url := os.Getenv("TILEPIPE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("set TILEPIPE_TEST_REDIS_URL to run Redis integration tests")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	lease := 500 * time.Millisecond
	exerciseLeaseSemantics(t, queue.NewRedis(client, "tilepipe-test-"+uuid.NewString(), "gdconv", lease), lease)
}

func TestAMQPQueueLeaseSemantics(t *testing.T) {
	url := os.Getenv("TILEPIPE_TEST_AMQP_URL")
	if url == "" {
		t.Skip("set TILEPIPE_TEST_AMQP_URL to run RabbitMQ integration tests")
	}
	broker, err := queue.DialAMQP(url, "tilepipe-test-"+uuid.NewString()+".")
	if err != nil {
		t.Fatalf("DialAMQP returned error: %v", err)
	}
	defer broker.Close()

	lease := 500 * time.Millisecond
	q, err := broker.Queue("gdconv", lease)
	if err != nil {
		t.Fatalf("Queue returned error: %v", err)
	}
	exerciseLeaseSemantics(t, q, lease)
}
