// Package pool provides bounded, reusable provider sessions. Each endpoint
// owns a pool of constructed adapters bound to a dedicated HTTP transport;
// borrowing a session avoids re-dialing and re-handshaking per call. Idle
// sessions past their keep-alive expiry are torn down and replaced, either
// lazily on acquire or by the background reaper.
//
// All types are safe for concurrent use.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/voletro/cordon/internal/config"
	"github.com/voletro/cordon/pkg/provider"
)

// SessionConstructor builds one bound provider session. Constructors should
// be cheap: SDK clients dial lazily, so no network traffic happens here.
type SessionConstructor func(ctx context.Context) (provider.Adapter, error)

// Pool is a bounded session pool for a single endpoint.
type Pool struct {
	endpointID     string
	keepAlive      time.Duration
	acquireTimeout time.Duration
	inner          *puddle.Pool[provider.Adapter]
	logger         *slog.Logger
	closeOnce      sync.Once
}

// New creates a session pool for the endpoint described by cfg. Sessions are
// built on demand by construct, up to cfg.MaxSessions concurrently live.
func New(cfg config.Endpoint, construct SessionConstructor, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		endpointID:     cfg.ID,
		keepAlive:      cfg.KeepAliveExpiry,
		acquireTimeout: cfg.Timeouts.PoolAcquire,
		logger:         logger.With("component", "pool", "endpoint", cfg.ID),
	}

	inner, err := puddle.NewPool(&puddle.Config[provider.Adapter]{
		Constructor: func(ctx context.Context) (provider.Adapter, error) {
			return construct(ctx)
		},
		Destructor: func(provider.Adapter) {},
		MaxSize:    cfg.MaxSessions,
	})
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", cfg.ID, err)
	}
	p.inner = inner
	return p, nil
}

// Acquire borrows a session, waiting under the endpoint's pool-acquire
// deadline when all sessions are busy. Idle sessions past the keep-alive
// expiry are destroyed and replaced with freshly constructed ones.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	for {
		res, err := p.inner.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("pool %q: acquire: %w", p.endpointID, err)
		}
		if p.keepAlive > 0 && res.IdleDuration() > p.keepAlive {
			p.logger.Debug("destroying expired idle session",
				"idle", res.IdleDuration())
			res.Destroy()
			continue
		}
		return &Session{res: res}, nil
	}
}

// Reap destroys idle sessions past the keep-alive expiry and returns how many
// it destroyed. Unexpired sessions are put back untouched.
func (p *Pool) Reap() int {
	if p.keepAlive <= 0 {
		return 0
	}
	destroyed := 0
	for _, res := range p.inner.AcquireAllIdle() {
		if res.IdleDuration() > p.keepAlive {
			res.Destroy()
			destroyed++
		} else {
			// ReleaseUnused keeps the idle clock running.
			res.ReleaseUnused()
		}
	}
	if destroyed > 0 {
		p.logger.Debug("reaped expired idle sessions", "destroyed", destroyed)
	}
	return destroyed
}

// Stat returns a snapshot of the pool's counters.
func (p *Pool) Stat() Stat {
	s := p.inner.Stat()
	return Stat{
		EndpointID:           p.endpointID,
		TotalSessions:        s.TotalResources(),
		IdleSessions:         s.IdleResources(),
		AcquiredSessions:     s.AcquiredResources(),
		ConstructingSessions: s.ConstructingResources(),
		MaxSessions:          s.MaxResources(),
		AcquireCount:         s.AcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
	}
}

// Close destroys all sessions and rejects further acquires. It is safe to
// call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(p.inner.Close)
}

// Session is one borrowed pool entry. Exactly one of Release or Destroy must
// be called when the caller is done with it.
type Session struct {
	res *puddle.Resource[provider.Adapter]
}

// Adapter returns the provider adapter bound to this session.
func (s *Session) Adapter() provider.Adapter {
	return s.res.Value()
}

// Release returns the session to the pool for reuse.
func (s *Session) Release() {
	s.res.Release()
}

// Destroy removes the session from the pool. Use after transport-level
// failures where the underlying connection state is suspect.
func (s *Session) Destroy() {
	s.res.Destroy()
}

// Stat is a point-in-time snapshot of one pool's counters.
type Stat struct {
	EndpointID           string `json:"endpoint_id"`
	TotalSessions        int32  `json:"total_sessions"`
	IdleSessions         int32  `json:"idle_sessions"`
	AcquiredSessions     int32  `json:"acquired_sessions"`
	ConstructingSessions int32  `json:"constructing_sessions"`
	MaxSessions          int32  `json:"max_sessions"`
	AcquireCount         int64  `json:"acquire_count"`
	EmptyAcquireCount    int64  `json:"empty_acquire_count"`
	CanceledAcquireCount int64  `json:"canceled_acquire_count"`
}
