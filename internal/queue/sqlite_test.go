package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tilepipe/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openSQLiteQueue(t *testing.T, name string, lease time.Duration) (*queue.SQLite, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store, err := queue.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "queue.db"), queue.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store.Queue(name, lease), clock
}

func TestSQLiteReceiveEmptyQueue(t *testing.T) {
	q, _ := openSQLiteQueue(t, "gdconv", time.Minute)
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message from empty queue, got %+v", msg)
	}
}

func TestSQLiteFIFOAndDelete(t *testing.T) {
	ctx := context.Background()
	q, _ := openSQLiteQueue(t, "gdconv", time.Minute)

	firstID, err := q.Enqueue(ctx, []byte("first"))
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if _, err := q.Enqueue(ctx, []byte("second")); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	msg, err := q.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Receive returned %v, %v", msg, err)
	}
	if msg.ID != firstID || string(msg.Body) != "first" || msg.DeliveryCount != 1 {
		t.Fatalf("unexpected first message: %+v", msg)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Visible != 1 || stats.InFlight != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := q.Delete(ctx, msg); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	n, err := queue.Len(ctx, q)
	if err != nil || n != 1 {
		t.Fatalf("expected one remaining message, got %d (%v)", n, err)
	}
}

func TestSQLiteLeaseHidesThenRedelivers(t *testing.T) {
	ctx := context.Background()
	q, clock := openSQLiteQueue(t, "gdconv", time.Minute)

	if _, err := q.Enqueue(ctx, []byte("payload")); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	first, err := q.Receive(ctx)
	if err != nil || first == nil {
		t.Fatalf("Receive returned %v, %v", first, err)
	}

	hidden, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if hidden != nil {
		t.Fatalf("expected leased message to be hidden, got %+v", hidden)
	}

	clock.Advance(61 * time.Second)
	again, err := q.Receive(ctx)
	if err != nil || again == nil {
		t.Fatalf("expected redelivery after lease expiry, got %v, %v", again, err)
	}
	if again.ID != first.ID || again.DeliveryCount != 2 {
		t.Fatalf("unexpected redelivered message: %+v", again)
	}

	err = q.Delete(ctx, first)
	if !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected stale receipt to lose the lease, got %v", err)
	}
	if err := q.Delete(ctx, again); err != nil {
		t.Fatalf("Delete with current receipt returned error: %v", err)
	}
}

func TestSQLiteExtendKeepsMessageHidden(t *testing.T) {
	ctx := context.Background()
	q, clock := openSQLiteQueue(t, "mbconv", time.Minute)

	if _, err := q.Enqueue(ctx, []byte("payload")); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	msg, err := q.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Receive returned %v, %v", msg, err)
	}

	clock.Advance(50 * time.Second)
	if err := q.Extend(ctx, msg, time.Minute); err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}
	clock.Advance(50 * time.Second)
	if hidden, err := q.Receive(ctx); err != nil || hidden != nil {
		t.Fatalf("expected extended lease to keep message hidden, got %v, %v", hidden, err)
	}
	if err := q.Delete(ctx, msg); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestSQLiteQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, err := queue.OpenSQLite(ctx, filepath.Join(t.TempDir(), "queue.db"), queue.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	defer store.Close()

	gd := store.Queue("gdconv", time.Minute)
	mb := store.Queue("mbconv", time.Minute)
	if _, err := gd.Enqueue(ctx, []byte("x")); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if msg, err := mb.Receive(ctx); err != nil || msg != nil {
		t.Fatalf("expected other queue to be empty, got %v, %v", msg, err)
	}

	removed, err := gd.Purge(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected purge to remove 1 message, got %d (%v)", removed, err)
	}
}

func TestSQLiteConcurrentReceiversNeverShareALease(t *testing.T) {
	ctx := context.Background()
	q, _ := openSQLiteQueue(t, "gdconv", time.Minute)
	const total = 20
	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := q.Receive(ctx)
				if err != nil {
					t.Errorf("Receive returned error: %v", err)
					return
				}
				if msg == nil {
					return
				}
				mu.Lock()
				if seen[msg.ID] {
					t.Errorf("message %s leased twice", msg.ID)
				}
				seen[msg.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != total {
		t.Fatalf("expected %d distinct messages, got %d", total, len(seen))
	}
}
