// Package app wires all cordon subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects every
// component once (dependency injection, no global registries), Run starts
// the background loops and the HTTP server, and Shutdown tears everything
// down in reverse order.
//
// For testing, inject doubles via functional options (WithAdapter,
// WithMeterProvider, WithListener). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voletro/cordon/internal/api"
	"github.com/voletro/cordon/internal/cache"
	"github.com/voletro/cordon/internal/config"
	"github.com/voletro/cordon/internal/health"
	"github.com/voletro/cordon/internal/observe"
	"github.com/voletro/cordon/internal/pool"
	"github.com/voletro/cordon/internal/relay"
	"github.com/voletro/cordon/internal/resilience"
	"github.com/voletro/cordon/internal/stream"
	"github.com/voletro/cordon/internal/tools"
	"github.com/voletro/cordon/pkg/provider"
)

// warmupTimeout bounds the whole startup endpoint validation pass.
const warmupTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	logLevel *slog.LevelVar

	metrics *observe.Metrics
	caches  *cache.Manager
	breaker *resilience.CircuitBreaker
	gate    *resilience.Gate
	pools   *pool.Set
	relay   *relay.Client
	factory *tools.Factory
	streams *stream.Reader

	server   *http.Server
	listener net.Listener

	// Injected test doubles, keyed by endpoint id.
	adapters map[string]provider.Adapter
	mp       metric.MeterProvider

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger all subsystems derive theirs from.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLogLevelVar hands the App the level variable behind the process
// logger so config hot reloads can adjust verbosity live.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMeterProvider uses mp for metric instruments instead of the global
// provider. Tests pair this with a manual reader.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.mp = mp }
}

// WithAdapter injects an adapter for one endpoint, bypassing the registry.
// Sessions for that endpoint all share the injected instance.
func WithAdapter(endpointID string, ad provider.Adapter) Option {
	return func(a *App) {
		if a.adapters == nil {
			a.adapters = make(map[string]provider.Adapter)
		}
		a.adapters[endpointID] = ad
	}
}

// WithListener serves HTTP on ln instead of binding server.listen_addr.
// Tests use this to grab an ephemeral port.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the gateway: caches, breaker, gate, session pools, relay,
// tool factory, streaming reader, and the HTTP surface, in dependency
// order. reg supplies adapter constructors for the configured endpoints
// (see cmd/cordon for the built-in registrations).
func New(cfg *config.Config, reg *provider.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.mp != nil {
		m, err := observe.NewMetrics(a.mp)
		if err != nil {
			return nil, fmt.Errorf("app: create metrics: %w", err)
		}
		a.metrics = m
	} else {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Caches ────────────────────────────────────────────────────────
	caches, err := cache.NewManager([]cache.Config{
		{Name: cache.CostEstimate, Capacity: cfg.Caches.CostEstimate.Capacity, TTL: cfg.Caches.CostEstimate.TTL},
		{Name: cache.GeneratedSchema, Capacity: cfg.Caches.GeneratedSchema.Capacity, TTL: cfg.Caches.GeneratedSchema.TTL},
		{Name: cache.EndpointValidation, Capacity: cfg.Caches.EndpointValidation.Capacity, TTL: cfg.Caches.EndpointValidation.TTL},
		{Name: cache.EndpointAvailability, Capacity: cfg.Caches.EndpointAvailability.Capacity, TTL: cfg.Caches.EndpointAvailability.TTL},
	}, cfg.Caches.SweepInterval, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: init caches: %w", err)
	}
	a.caches = caches
	a.closers = append(a.closers, caches.Close)

	// ── 3. Breaker + gate ────────────────────────────────────────────────
	breakerCfgs := make(map[string]resilience.BreakerConfig, len(cfg.Endpoints))
	gateLimits := make(map[string]int64, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		breakerCfgs[ep.ID] = resilience.BreakerConfig{
			FailureThreshold: ep.Breaker.FailureThreshold,
			RecoveryTimeout:  ep.Breaker.RecoveryTimeout,
		}
		gateLimits[ep.ID] = ep.MaxConcurrent
	}
	a.breaker = resilience.NewCircuitBreaker(breakerCfgs, func(id string, from, to resilience.State) {
		a.metrics.RecordBreakerTransition(context.Background(), id, from.String(), to.String())
	})
	a.gate = resilience.NewGate(gateLimits)

	// ── 4. Session pools ─────────────────────────────────────────────────
	if err := a.initPools(reg); err != nil {
		return nil, fmt.Errorf("app: init pools: %w", err)
	}

	// ── 5. Relay ─────────────────────────────────────────────────────────
	rc, err := relay.New(cfg, relay.Deps{
		Breaker: a.breaker,
		Gate:    a.gate,
		Pools:   a.pools,
		Caches:  a.caches,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}
	a.relay = rc

	// ── 6. Streaming reader ──────────────────────────────────────────────
	a.streams = stream.NewReader(
		cfg.Streaming.MaxConcurrentReads,
		cfg.Streaming.ChunkSize,
		cfg.Streaming.MaxBytes,
		stream.WithMetrics(a.metrics),
		stream.WithLogger(a.logger),
	)

	// ── 7. Tool factory ──────────────────────────────────────────────────
	descriptors := tools.Builtins(tools.Deps{
		Relay:   a.relay,
		Caches:  a.caches,
		Pools:   a.pools,
		Stream:  a.streams,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	descriptors = append(descriptors, tools.MCPDescriptors(cfg.Tools.MCPServers, a.logger)...)
	factory, err := tools.NewFactory(descriptors, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	a.factory = factory
	a.closers = append(a.closers, factory.Close)

	// ── 8. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// initPools builds one session pool per endpoint. An adapter injected via
// WithAdapter replaces the registry constructor for its endpoint; real
// endpoints get an adapter bound to a dedicated tiered-transport client.
func (a *App) initPools(reg *provider.Registry) error {
	pools := make(map[string]*pool.Pool, len(a.cfg.Endpoints))
	for _, ep := range a.cfg.Endpoints {
		construct, err := a.sessionConstructor(reg, ep)
		if err != nil {
			return err
		}
		p, err := pool.New(ep, construct, a.logger)
		if err != nil {
			return err
		}
		pools[ep.ID] = p
	}
	a.pools = pool.NewSet(pools, pool.DefaultReapInterval, a.logger)
	a.closers = append(a.closers, func() error {
		a.pools.Close()
		return nil
	})
	return nil
}

func (a *App) sessionConstructor(reg *provider.Registry, ep config.Endpoint) (pool.SessionConstructor, error) {
	if injected, ok := a.adapters[ep.ID]; ok {
		return func(context.Context) (provider.Adapter, error) {
			return injected, nil
		}, nil
	}
	if reg == nil {
		return nil, fmt.Errorf("endpoint %q: no registry and no injected adapter", ep.ID)
	}
	settings := provider.Settings{
		Provider:   ep.Provider,
		Model:      ep.Model,
		BaseURL:    ep.BaseURL,
		APIKey:     ep.ResolveAPIKey(),
		HTTPClient: pool.HTTPClient(ep),
	}
	// Fail fast on unregistered providers rather than at first acquire.
	if _, err := reg.Create(settings); err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", ep.ID, err)
	}
	return func(context.Context) (provider.Adapter, error) {
		return reg.Create(settings)
	}, nil
}

// initHTTP assembles the mux: dispatch/ops API, health probes, and the
// Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	handler := &api.Handler{
		Factory: a.factory,
		Caches:  a.caches,
		Breaker: a.breaker,
		Pools:   a.pools,
		Logger:  a.logger,
	}
	handler.Register(mux)

	checkers := make([]health.Checker, 0, len(a.cfg.Endpoints))
	for _, ep := range a.cfg.Endpoints {
		checkers = append(checkers, health.Checker{
			Name:  "endpoint:" + ep.ID,
			Check: a.endpointChecker(ep.ID),
		})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// endpointChecker builds the readiness probe for one endpoint. A fresh
// availability hint answers directly; otherwise a session is borrowed for
// a real adapter probe and the hint refreshed.
func (a *App) endpointChecker(endpointID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if v, ok := a.caches.Get(cache.EndpointAvailability, endpointID); ok {
			if available, ok := v.(bool); ok {
				if available {
					return nil
				}
				return fmt.Errorf("endpoint %q marked unavailable", endpointID)
			}
		}
		return a.probeEndpoint(ctx, endpointID)
	}
}

// probeEndpoint checks one endpoint's adapter on a borrowed session and
// records the availability hint.
func (a *App) probeEndpoint(ctx context.Context, endpointID string) error {
	sess, err := a.pools.Acquire(ctx, endpointID)
	if err != nil {
		return err
	}

	checkErr := sess.Adapter().Check(ctx)
	if checkErr == nil {
		sess.Release()
	} else {
		sess.Destroy()
	}

	if err := a.caches.Put(cache.EndpointAvailability, endpointID, checkErr == nil); err != nil {
		a.logger.Debug("availability hint not recorded", "endpoint", endpointID, "error", err)
	}
	return checkErr
}

// warmup probes every endpoint in parallel at startup so the availability
// cache and readiness reports start warm. Failures are logged, never
// fatal: an endpoint that is down at boot just starts with a cold breaker
// and an unavailable hint.
func (a *App) warmup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	var g errgroup.Group
	for _, ep := range a.cfg.Endpoints {
		g.Go(func() error {
			if err := a.probeEndpoint(ctx, ep.ID); err != nil {
				a.logger.Warn("endpoint validation failed at startup",
					"endpoint", ep.ID, "error", err)
			} else {
				a.logger.Info("endpoint validated", "endpoint", ep.ID)
			}
			return nil
		})
	}
	g.Wait()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background loops (cache sweep, session reaper), warms up
// the endpoints, and serves HTTP until ctx is cancelled. It returns
// ctx.Err() on orderly shutdown or the server error if serving fails.
func (a *App) Run(ctx context.Context) error {
	a.caches.Start(ctx)
	a.pools.Start(ctx)
	a.warmup(ctx)

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	a.listener = ln

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	a.logger.Info("gateway running",
		"addr", ln.Addr().String(),
		"endpoints", len(a.cfg.Endpoints),
		"tools", len(a.factory.Names()),
	)

	select {
	case err := <-serveErr:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound listen address, or "" before Run.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyDiff applies a config file change. Only the log level changes
// live; endpoint topology is built once at startup (gates, pools, and
// breakers hold per-endpoint state), so those changes are logged as
// restart advisories.
func (a *App) ApplyDiff(_ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(diff.NewLogLevel))
		a.logger.Info("log level changed", "level", diff.NewLogLevel)
	}
	for _, ed := range diff.EndpointChanges {
		a.logger.Warn("endpoint config changed on disk — restart required to apply",
			"endpoint", ed.ID,
			"added", ed.Added,
			"removed", ed.Removed,
		)
	}
}

// slogLevel maps a config log level onto its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then tears down subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Warn("http server shutdown error", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
