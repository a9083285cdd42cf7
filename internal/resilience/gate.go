// Package resilience provides the admission gate and circuit breaker
// guarding outbound provider calls.
//
// [Gate] bounds how many calls may be in flight per endpoint at once;
// waiters are served in FIFO order. [CircuitBreaker] is a classic
// three-state breaker (closed → open → half-open) with per-endpoint
// records and a single half-open probe, consulted by the relay before
// any gate, pool, or network interaction.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrUnknownEndpoint is returned when an endpoint id was not configured.
var ErrUnknownEndpoint = errors.New("resilience: unknown endpoint")

// gateEntry is the per-endpoint limiter state.
type gateEntry struct {
	sem      *semaphore.Weighted
	limit    int64
	inflight atomic.Int64
}

// Gate is a per-endpoint counting concurrency limiter. Each endpoint has
// an independent ceiling; a caller at the ceiling suspends in
// [Gate.Acquire] until a slot frees. semaphore.Weighted queues waiters
// in FIFO order, so no caller starves beyond scheduling jitter.
//
// The endpoint set is fixed at construction, which keeps lookups
// lock-free.
type Gate struct {
	entries map[string]*gateEntry
}

// NewGate builds a gate from per-endpoint concurrency ceilings. Limits
// below 1 are raised to 1.
func NewGate(limits map[string]int64) *Gate {
	entries := make(map[string]*gateEntry, len(limits))
	for id, limit := range limits {
		if limit < 1 {
			limit = 1
		}
		entries[id] = &gateEntry{sem: semaphore.NewWeighted(limit), limit: limit}
	}
	return &Gate{entries: entries}
}

// Acquire obtains one in-flight slot for the endpoint, suspending while
// the endpoint is at its ceiling. On a nil return the caller holds a
// permit and must call [Gate.Release] on every exit path. If ctx ends
// while waiting, the ctx error is returned and no permit is held.
func (g *Gate) Acquire(ctx context.Context, endpointID string) error {
	e, ok := g.entries[endpointID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointID)
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	e.inflight.Add(1)
	return nil
}

// TryAcquire obtains a slot without waiting. It reports false when the
// endpoint is at its ceiling or unknown.
func (g *Gate) TryAcquire(endpointID string) bool {
	e, ok := g.entries[endpointID]
	if !ok {
		return false
	}
	if !e.sem.TryAcquire(1) {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Release returns a previously acquired slot. Calls must match acquires
// one to one; releasing without a held permit corrupts the limiter, so
// callers pair Acquire with a deferred Release.
func (g *Gate) Release(endpointID string) {
	e, ok := g.entries[endpointID]
	if !ok {
		return
	}
	e.inflight.Add(-1)
	e.sem.Release(1)
}

// InFlight returns the number of currently held slots for the endpoint,
// or 0 for unknown endpoints.
func (g *Gate) InFlight(endpointID string) int64 {
	e, ok := g.entries[endpointID]
	if !ok {
		return 0
	}
	return e.inflight.Load()
}

// Limit returns the configured ceiling for the endpoint, or 0 for
// unknown endpoints.
func (g *Gate) Limit(endpointID string) int64 {
	e, ok := g.entries[endpointID]
	if !ok {
		return 0
	}
	return e.limit
}
