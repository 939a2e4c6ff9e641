package status

import (
	"context"
	"errors"
	"fmt"

	"tilepipe/internal/layer"
)

// Store is a durable job id to status mapping. Writes are unconditional
// upserts; the last successful write wins.
type Store interface {
	// Get returns the recorded status, or false when the id has never been written.
	Get(ctx context.Context, id string) (layer.Status, bool, error)
	// Update creates or overwrites the record for id.
	Update(ctx context.Context, id string, status layer.Status) error
	Close() error
}

// ErrTerminalState is returned by Transition when a job already sits in a
// different terminal status.
var ErrTerminalState = errors.New("job already in terminal state")

// Transition is the worker write path. It refuses to move a job out of
// Failed or Complete into a different status, so a late success cannot
// resurrect a failed job. Re-applying the current terminal status is a
// no-op. The read and write are not atomic; two workers racing on one job
// still resolve last-write-wins.
func Transition(ctx context.Context, store Store, id string, next layer.Status) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("transition %s: invalid status %q", id, next)
	}
	current, ok, err := store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if ok && current.IsTerminal() {
		if current == next {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s is %s, refusing %s", ErrTerminalState, id, current, next)
	}
	if err := store.Update(ctx, id, next); err != nil {
		return false, err
	}
	return true, nil
}
