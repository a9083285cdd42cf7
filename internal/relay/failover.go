package relay

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voletro/cordon/internal/cache"
	"github.com/voletro/cordon/internal/observe"
	"github.com/voletro/cordon/internal/resilience"
	"github.com/voletro/cordon/pkg/provider"
)

// ErrAllFailed is returned by [Client.Failover] when every candidate
// endpoint failed or had an open circuit breaker.
var ErrAllFailed = errors.New("relay: all endpoints failed")

// Failover tries req against each candidate endpoint until one succeeds.
//
// A nil or empty endpointIDs means all configured endpoints. Candidates
// are reordered before the walk: endpoints the availability cache marks
// unreachable are demoted, endpoints with an open breaker go last (they
// fast-fail unless their recovery timeout has elapsed, in which case the
// attempt doubles as the half-open probe). Within each band the given
// order is preserved, so configuration order expresses priority.
//
// Caller cancellation stops the walk immediately. Every endpoint
// exhausted returns [ErrAllFailed] wrapped around the last error.
func (c *Client) Failover(ctx context.Context, endpointIDs []string, req provider.Request) (*provider.Response, error) {
	candidates := endpointIDs
	if len(candidates) == 0 {
		candidates = c.order
	}
	candidates = c.orderCandidates(candidates)

	ctx, span := observe.StartSpan(ctx, "relay.failover",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))),
	)
	defer span.End()

	var lastErr error
	for _, id := range candidates {
		resp, err := c.Call(ctx, id, req)
		if err == nil {
			span.SetAttributes(attribute.String("endpoint", id))
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if provider.IsCircuitOpen(err) {
			c.logger.Debug("skipping endpoint (circuit open)", "endpoint", id)
			continue
		}
		c.logger.Warn("endpoint failed, trying next", "endpoint", id, "error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate endpoints")
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// orderCandidates partitions ids into ready, degraded (availability cache
// says the last Check failed), and open-breaker bands, preserving relative
// order inside each band. The availability hint is advisory: a degraded
// endpoint is still tried, just later.
func (c *Client) orderCandidates(ids []string) []string {
	ready := make([]string, 0, len(ids))
	var degraded, open []string

	for _, id := range ids {
		if c.breaker.State(id) == resilience.StateOpen {
			open = append(open, id)
			continue
		}
		if v, ok := c.caches.Get(cache.EndpointAvailability, id); ok {
			if available, ok := v.(bool); ok && !available {
				degraded = append(degraded, id)
				continue
			}
		}
		ready = append(ready, id)
	}

	ready = append(ready, degraded...)
	return append(ready, open...)
}
