package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownEndpoint is returned when no pool exists for an endpoint id.
var ErrUnknownEndpoint = errors.New("pool: unknown endpoint")

// DefaultReapInterval is how often the background reaper sweeps idle sessions.
const DefaultReapInterval = 30 * time.Second

// Set holds the session pools of all configured endpoints and runs the
// shared background reaper.
type Set struct {
	pools        map[string]*Pool
	reapInterval time.Duration
	logger       *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSet builds a Set over pools keyed by endpoint id. reapInterval controls
// the background sweep; non-positive disables it.
func NewSet(pools map[string]*Pool, reapInterval time.Duration, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		pools:        pools,
		reapInterval: reapInterval,
		logger:       logger.With("component", "pool"),
		done:         make(chan struct{}),
	}
}

// Get returns the pool for the endpoint id.
func (s *Set) Get(endpointID string) (*Pool, error) {
	p, ok := s.pools[endpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointID)
	}
	return p, nil
}

// Acquire borrows a session from the endpoint's pool.
func (s *Set) Acquire(ctx context.Context, endpointID string) (*Session, error) {
	p, err := s.Get(endpointID)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx)
}

// Start launches the background reaper. It stops when ctx is done or the
// Set is closed.
func (s *Set) Start(ctx context.Context) {
	if s.reapInterval <= 0 {
		s.logger.Info("session reaper disabled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.reap()
			}
		}
	}()
	s.logger.Info("session reaper started", "interval", s.reapInterval)
}

func (s *Set) reap() {
	total := 0
	for _, p := range s.pools {
		total += p.Reap()
	}
	if total > 0 {
		s.logger.Debug("session reap pass complete", "destroyed", total)
	}
}

// Stats returns a snapshot of every pool's counters, keyed by endpoint id.
func (s *Set) Stats() map[string]Stat {
	out := make(map[string]Stat, len(s.pools))
	for id, p := range s.pools {
		out[id] = p.Stat()
	}
	return out
}

// Names returns the endpoint ids with a pool, in map order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.pools))
	for id := range s.pools {
		out = append(out, id)
	}
	return out
}

// Close stops the reaper and drains every pool. It is safe to call more
// than once.
func (s *Set) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		for _, p := range s.pools {
			p.Close()
		}
	})
}
