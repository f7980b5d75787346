// Package locks provides per-key mutual exclusion with an acquisition
// deadline, used for the per-table and per-ticket critical sections.
package locks

import (
	"context"
	"sync"
	"time"

	"tableserve/internal/apperr"
)

type Keyed struct {
	mu      sync.Mutex
	held    map[string]chan struct{}
	timeout time.Duration
}

func NewKeyed(timeout time.Duration) *Keyed {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Keyed{held: make(map[string]chan struct{}), timeout: timeout}
}

// Acquire takes the lock for key, waiting up to the configured timeout.
// On contention timeout it returns ConcurrencyConflict so the caller can
// retry. The returned release function must be called exactly once.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.held[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.held[key] = ch
	}
	k.mu.Unlock()

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, apperr.New(apperr.ConcurrencyConflict, "lock contention on %q, retry", key)
	case <-ctx.Done():
		return nil, apperr.New(apperr.ConcurrencyConflict, "canceled while waiting for %q", key)
	}
}
