package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Delete and Extend when the lease no longer
// belongs to the caller, typically because it expired and the message was
// leased to another consumer.
var ErrLeaseLost = errors.New("lease lost")

// Queue is an at-least-once message queue. A received message stays hidden
// from other consumers until its lease expires or it is deleted; an expired
// lease makes the message visible again.
type Queue interface {
	// Name identifies the queue.
	Name() string
	// Enqueue appends a message and returns its identifier.
	Enqueue(ctx context.Context, body []byte) (string, error)
	// Receive leases the next visible message. It does not block; a nil
	// message with a nil error means the queue is empty.
	Receive(ctx context.Context) (*Leased, error)
	// Delete acknowledges a leased message, removing it permanently.
	Delete(ctx context.Context, msg *Leased) error
	// Extend pushes the lease deadline to now+d.
	Extend(ctx context.Context, msg *Leased, d time.Duration) error
	// Stats reports visible and leased message counts.
	Stats(ctx context.Context) (Stats, error)
}

// Leased is a received message together with its lease.
type Leased struct {
	ID            string
	Body          []byte
	DeliveryCount int
	EnqueuedAt    time.Time

	receipt string
}

// Receipt returns the opaque lease token.
func (l *Leased) Receipt() string { return l.receipt }

// Stats summarizes queue depth.
type Stats struct {
	Visible  int
	InFlight int
}

// Total returns visible plus in-flight messages.
func (s Stats) Total() int { return s.Visible + s.InFlight }

// Len returns the number of messages held by q, leased or not.
func Len(ctx context.Context, q Queue) (int, error) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Total(), nil
}
