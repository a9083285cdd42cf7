package pool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voletro/cordon/internal/config"
	"github.com/voletro/cordon/internal/pool"
	"github.com/voletro/cordon/pkg/provider"
)

type stubAdapter struct{ n int64 }

func (a *stubAdapter) Do(context.Context, provider.Request) (*provider.Response, error) {
	return &provider.Response{Content: "ok"}, nil
}

func (a *stubAdapter) Check(context.Context) error { return nil }

// countingConstructor returns a SessionConstructor that counts invocations.
func countingConstructor(constructs *atomic.Int64) pool.SessionConstructor {
	return func(context.Context) (provider.Adapter, error) {
		n := constructs.Add(1)
		return &stubAdapter{n: n}, nil
	}
}

func testEndpoint(maxSessions int32, keepAlive, poolAcquire time.Duration) config.Endpoint {
	return config.Endpoint{
		ID:              "ep",
		Provider:        "mock",
		Model:           "test-model",
		MaxSessions:     maxSessions,
		KeepAliveExpiry: keepAlive,
		Timeouts:        config.Timeouts{PoolAcquire: poolAcquire},
	}
}

func TestPoolReusesReleasedSessions(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(2, time.Hour, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire = %v", err)
	}
	first := s1.Adapter()
	s1.Release()

	s2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire = %v", err)
	}
	defer s2.Release()

	if got := constructs.Load(); got != 1 {
		t.Errorf("constructor ran %d times, want 1", got)
	}
	if s2.Adapter() != first {
		t.Error("second acquire returned a different session, want the released one")
	}
}

func TestPoolAcquireTimesOutWhenSaturated(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(1, time.Hour, 50*time.Millisecond), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire = %v", err)
	}
	defer s.Release()

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire while saturated = %v, want DeadlineExceeded", err)
	}
}

func TestPoolExpiredSessionReplacedOnAcquire(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(2, 20*time.Millisecond, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire = %v", err)
	}
	s.Release()

	time.Sleep(60 * time.Millisecond)

	s2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after expiry = %v", err)
	}
	defer s2.Release()

	if got := constructs.Load(); got != 2 {
		t.Errorf("constructor ran %d times, want 2 (expired session replaced)", got)
	}
}

func TestPoolDestroyRemovesSession(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(2, time.Hour, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire = %v", err)
	}
	s.Destroy()

	s2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after destroy = %v", err)
	}
	defer s2.Release()

	if got := constructs.Load(); got != 2 {
		t.Errorf("constructor ran %d times, want 2", got)
	}
}

func TestPoolConstructorErrorPropagates(t *testing.T) {
	errBoom := errors.New("bind failed")
	p, err := pool.New(testEndpoint(1, time.Hour, time.Second), func(context.Context) (provider.Adapter, error) {
		return nil, errBoom
	}, nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("Acquire = %v, want the constructor error", err)
	}
}

func TestPoolReap(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(2, 20*time.Millisecond, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	// Two idle sessions.
	s1, _ := p.Acquire(context.Background())
	s2, _ := p.Acquire(context.Background())
	s1.Release()
	s2.Release()

	time.Sleep(60 * time.Millisecond)

	if got := p.Reap(); got != 2 {
		t.Errorf("Reap() = %d, want 2", got)
	}
	if got := p.Stat().TotalSessions; got != 0 {
		t.Errorf("TotalSessions after reap = %d, want 0", got)
	}
}

func TestPoolReapKeepsFreshSessions(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(2, time.Hour, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s, _ := p.Acquire(context.Background())
	s.Release()

	if got := p.Reap(); got != 0 {
		t.Errorf("Reap() = %d, want 0", got)
	}
	if got := p.Stat().TotalSessions; got != 1 {
		t.Errorf("TotalSessions = %d, want 1", got)
	}
}

func TestPoolStat(t *testing.T) {
	var constructs atomic.Int64
	p, err := pool.New(testEndpoint(4, time.Hour, time.Second), countingConstructor(&constructs), nil)
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	defer p.Close()

	s, _ := p.Acquire(context.Background())
	defer s.Release()

	st := p.Stat()
	if st.EndpointID != "ep" {
		t.Errorf("EndpointID = %q, want \"ep\"", st.EndpointID)
	}
	if st.AcquiredSessions != 1 {
		t.Errorf("AcquiredSessions = %d, want 1", st.AcquiredSessions)
	}
	if st.MaxSessions != 4 {
		t.Errorf("MaxSessions = %d, want 4", st.MaxSessions)
	}
	if st.AcquireCount != 1 {
		t.Errorf("AcquireCount = %d, want 1", st.AcquireCount)
	}
}
