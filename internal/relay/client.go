// Package relay orchestrates calls to remote model endpoints.
//
// [Client.Call] is the single path every outbound request takes: the
// endpoint's circuit breaker decides admission, the admission gate bounds
// in-flight concurrency, a session is borrowed from the endpoint's pool,
// and the attempt runs under the endpoint's timeout tiers. Transient
// failures are retried with exponential backoff; permanent rejections are
// returned immediately. [Client.Failover] walks an ordered list of
// candidate endpoints until one succeeds.
//
// The client reports exactly one outcome per logical call to the circuit
// breaker, regardless of how many attempts the call needed. All methods
// are safe for concurrent use.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voletro/cordon/internal/cache"
	"github.com/voletro/cordon/internal/config"
	"github.com/voletro/cordon/internal/observe"
	"github.com/voletro/cordon/internal/pool"
	"github.com/voletro/cordon/internal/resilience"
	"github.com/voletro/cordon/pkg/provider"
)

// Deps bundles the collaborators a Client needs. All fields except Metrics
// and Logger are required.
type Deps struct {
	Breaker *resilience.CircuitBreaker
	Gate    *resilience.Gate
	Pools   *pool.Set
	Caches  *cache.Manager

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// Client coordinates breaker, gate, pool, and retry behavior for every
// outbound provider call.
type Client struct {
	endpoints map[string]config.Endpoint
	order     []string

	breaker *resilience.CircuitBreaker
	gate    *resilience.Gate
	pools   *pool.Set
	caches  *cache.Manager
	metrics *observe.Metrics
	logger  *slog.Logger

	retries     int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// New builds a Client over the configured endpoints.
func New(cfg *config.Config, deps Deps) (*Client, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("relay: config is required")
	case deps.Breaker == nil:
		return nil, errors.New("relay: circuit breaker is required")
	case deps.Gate == nil:
		return nil, errors.New("relay: admission gate is required")
	case deps.Pools == nil:
		return nil, errors.New("relay: session pools are required")
	case deps.Caches == nil:
		return nil, errors.New("relay: cache manager is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	endpoints := make(map[string]config.Endpoint, len(cfg.Endpoints))
	order := make([]string, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpoints[ep.ID] = ep
		order = append(order, ep.ID)
	}

	return &Client{
		endpoints:   endpoints,
		order:       order,
		breaker:     deps.Breaker,
		gate:        deps.Gate,
		pools:       deps.Pools,
		caches:      deps.Caches,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("component", "relay"),
		retries:     cfg.Relay.Retries(),
		backoffBase: cfg.Relay.BackoffBase,
		backoffCap:  cfg.Relay.BackoffCap,
	}, nil
}

// Endpoints returns the configured endpoint ids in configuration order.
func (c *Client) Endpoints() []string {
	return slices.Clone(c.order)
}

// Call sends req to the endpoint and returns its response, retrying
// transient failures up to the configured retry budget.
//
// The breaker is consulted before any gate, pool, or network interaction;
// a refusal returns a [provider.KindCircuitOpen] error without side
// effects. Once admitted, the call holds one gate permit for its whole
// duration and reports exactly one outcome to the breaker when it
// finishes: success, failure (at least one transient failure and no
// recovery), or neutral (permanent rejection or caller cancellation,
// neither of which says anything about endpoint health).
func (c *Client) Call(ctx context.Context, endpointID string, req provider.Request) (resp *provider.Response, retErr error) {
	ep, ok := c.endpoints[endpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", resilience.ErrUnknownEndpoint, endpointID)
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "relay.call",
		trace.WithAttributes(attribute.String("endpoint", endpointID)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	attempts := 0
	metricOutcome := "transient"
	defer func() {
		span.SetAttributes(attribute.Int("attempts", attempts))
		c.metrics.RecordCall(ctx, endpointID, metricOutcome, attempts, time.Since(start))
	}()

	probe, err := c.breaker.Allow(endpointID)
	if err != nil {
		if errors.Is(err, resilience.ErrUnknownEndpoint) {
			return nil, err
		}
		metricOutcome = "circuit_open"
		c.logger.Debug("call refused by circuit breaker", "endpoint", endpointID)
		return nil, provider.CircuitOpen(endpointID, err)
	}

	// One outcome per logical call, however many attempts it takes.
	outcome := resilience.OutcomeNeutral
	defer func() { c.breaker.Report(endpointID, outcome, probe) }()

	if err := c.gate.Acquire(ctx, endpointID); err != nil {
		metricOutcome = "canceled"
		return nil, err
	}
	c.metrics.AddGateInFlight(ctx, endpointID, 1)
	defer func() {
		c.gate.Release(endpointID)
		c.metrics.AddGateInFlight(ctx, endpointID, -1)
	}()

	var lastErr error
	backoff := c.backoffBase
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			// Another caller may have tripped the breaker since this call
			// was admitted; further attempts would only pile onto a failing
			// endpoint.
			if c.breaker.State(endpointID) == resilience.StateOpen {
				metricOutcome = "circuit_open"
				cerr := provider.CircuitOpen(endpointID, nil)
				cerr.Attempts = attempts
				c.logger.Debug("aborting retries, circuit opened",
					"endpoint", endpointID, "attempts", attempts)
				return nil, cerr
			}

			c.logger.Debug("retrying provider call",
				"endpoint", endpointID,
				"attempt", attempt+1,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				metricOutcome = "canceled"
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.backoffCap {
				backoff = c.backoffCap
			}
		}

		attempts++
		result, err := c.attempt(ctx, ep, req)
		if err == nil {
			outcome = resilience.OutcomeSuccess
			metricOutcome = "success"
			return result, nil
		}
		lastErr = err

		// The caller's context ending dominates any other classification:
		// the endpoint was never proven unhealthy.
		if ctx.Err() != nil {
			metricOutcome = "canceled"
			return nil, ctx.Err()
		}

		if provider.IsPermanent(err) {
			metricOutcome = "permanent"
			c.logger.Info("provider rejected request",
				"endpoint", endpointID, "error", err)
			return nil, c.stamp(endpointID, attempts, err)
		}

		outcome = resilience.OutcomeFailure
		c.logger.Warn("provider call failed",
			"endpoint", endpointID,
			"attempt", attempts,
			"error", err)
	}

	return nil, c.stamp(endpointID, attempts, lastErr)
}

// attempt borrows one session and issues a single request under the
// endpoint's attempt deadline. The session is always resolved before
// returning: released back to the pool on success or a permanent
// rejection, destroyed when the transport is suspect (transient failure
// or cancellation mid-exchange).
func (c *Client) attempt(ctx context.Context, ep config.Endpoint, req provider.Request) (*provider.Response, error) {
	acquireStart := time.Now()
	sess, err := c.pools.Acquire(ctx, ep.ID)
	c.metrics.RecordPoolAcquire(ctx, ep.ID, time.Since(acquireStart))
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, ep.Timeouts.Attempt())
	defer cancel()

	resp, err := sess.Adapter().Do(attemptCtx, req)
	if err == nil {
		sess.Release()
		return resp, nil
	}

	if provider.IsPermanent(err) && ctx.Err() == nil {
		sess.Release()
	} else {
		sess.Destroy()
	}
	return nil, err
}

// stamp ensures err carries the endpoint id and attempt count. Classified
// adapter errors are annotated in place; anything else is wrapped as
// transient.
func (c *Client) stamp(endpointID string, attempts int, err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		pe.Endpoint = endpointID
		pe.Attempts = attempts
		return err
	}
	return &provider.Error{
		Endpoint: endpointID,
		Kind:     provider.KindTransient,
		Attempts: attempts,
		Err:      err,
	}
}
