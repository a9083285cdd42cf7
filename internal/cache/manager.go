package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Canonical cache names. Every component asks the manager for one of
// these; the set is fixed by configuration at process start.
const (
	// CostEstimate memoizes token/cost estimates per model+prompt.
	CostEstimate = "cost-estimate"

	// GeneratedSchema memoizes generated JSON schemas per tool.
	GeneratedSchema = "generated-schema"

	// EndpointValidation memoizes endpoint validation results.
	EndpointValidation = "endpoint-validation"

	// EndpointAvailability memoizes short-TTL availability hints used for
	// endpoint selection. Independent from the circuit breaker: the
	// breaker handles call-level resilience, this cache only orders
	// failover candidates and feeds readiness reporting.
	EndpointAvailability = "endpoint-availability"
)

// ErrUnknownCache is returned when a named cache was not configured.
var ErrUnknownCache = errors.New("cache: unknown cache")

// Config sizes one named cache.
type Config struct {
	Name     string
	Capacity int
	TTL      time.Duration
}

// Manager owns the named set of caches and runs the periodic TTL sweep.
// The set is fixed at construction; lookups after that are lock-free.
type Manager struct {
	caches        map[string]*Cache[string, any]
	sweepInterval time.Duration
	logger        *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager builds a manager holding one cache per config entry.
// Duplicate names are rejected.
func NewManager(cfgs []Config, sweepInterval time.Duration, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		caches:        make(map[string]*Cache[string, any], len(cfgs)),
		sweepInterval: sweepInterval,
		logger:        logger.With("component", "cache"),
		done:          make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, errors.New("cache: config with empty name")
		}
		if _, ok := m.caches[cfg.Name]; ok {
			return nil, fmt.Errorf("cache: duplicate cache name %q", cfg.Name)
		}
		m.caches[cfg.Name] = New[string, any](cfg.Capacity, cfg.TTL)
	}
	return m, nil
}

// Cache returns the named cache. Components that use one cache
// repeatedly should resolve it once and keep the reference.
func (m *Manager) Cache(name string) (*Cache[string, any], error) {
	c, ok := m.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	return c, nil
}

// Get returns the value stored under key in the named cache. An unknown
// cache name reads as a miss.
func (m *Manager) Get(name, key string) (any, bool) {
	c, ok := m.caches[name]
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// Put stores value under key in the named cache with its default TTL.
func (m *Manager) Put(name, key string, value any) error {
	c, ok := m.caches[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	c.Put(key, value)
	return nil
}

// PutTTL stores value under key in the named cache with an explicit TTL.
func (m *Manager) PutTTL(name, key string, value any, ttl time.Duration) error {
	c, ok := m.caches[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	c.PutTTL(key, value, ttl)
	return nil
}

// GetOrLoad returns the cached value under key in the named cache or
// computes it via loader, deduplicating concurrent loads of the same key.
func (m *Manager) GetOrLoad(ctx context.Context, name, key string, loader func(context.Context) (any, error)) (any, error) {
	c, ok := m.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	return c.GetOrLoad(ctx, key, loader)
}

// Invalidate removes key from the named cache if both exist.
func (m *Manager) Invalidate(name, key string) {
	if c, ok := m.caches[name]; ok {
		c.Invalidate(key)
	}
}

// Names returns the configured cache names in unspecified order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}

// Snapshot returns per-cache stats keyed by cache name.
func (m *Manager) Snapshot() map[string]Stats {
	snap := make(map[string]Stats, len(m.caches))
	for name, c := range m.caches {
		snap[name] = c.Stats()
	}
	return snap
}

// Start launches the periodic sweep that removes TTL-expired entries to
// bound memory between accesses. A sweep interval <= 0 disables it; the
// caches then rely on expiry-on-observation and capacity eviction alone,
// which is behaviorally equivalent.
func (m *Manager) Start(ctx context.Context) {
	if m.sweepInterval <= 0 {
		m.logger.Info("ttl sweep disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
	m.logger.Info("ttl sweep started", "interval", m.sweepInterval)
}

// sweep removes expired entries from every cache.
func (m *Manager) sweep() {
	total := 0
	for name, c := range m.caches {
		if n := c.RemoveExpired(); n > 0 {
			m.logger.Debug("swept expired entries", "cache", name, "removed", n)
			total += n
		}
	}
	if total > 0 {
		m.logger.Info("ttl sweep completed", "removed", total)
	}
}

// Close stops the sweep goroutine. Safe to call multiple times and
// before Start.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}
