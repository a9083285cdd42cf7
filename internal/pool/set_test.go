package pool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voletro/cordon/internal/pool"
)

func newTestSet(t *testing.T, reapInterval time.Duration, keepAlive time.Duration, constructs *atomic.Int64) *pool.Set {
	t.Helper()
	pools := make(map[string]*pool.Pool, 2)
	for _, id := range []string{"a", "b"} {
		cfg := testEndpoint(2, keepAlive, time.Second)
		cfg.ID = id
		p, err := pool.New(cfg, countingConstructor(constructs), nil)
		if err != nil {
			t.Fatalf("New(%q) = %v", id, err)
		}
		pools[id] = p
	}
	s := pool.NewSet(pools, reapInterval, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSetAcquireByEndpoint(t *testing.T) {
	var constructs atomic.Int64
	s := newTestSet(t, 0, time.Hour, &constructs)

	sess, err := s.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire(a) = %v", err)
	}
	sess.Release()

	if _, err := s.Get("b"); err != nil {
		t.Errorf("Get(b) = %v", err)
	}
}

func TestSetUnknownEndpoint(t *testing.T) {
	var constructs atomic.Int64
	s := newTestSet(t, 0, time.Hour, &constructs)

	if _, err := s.Acquire(context.Background(), "missing"); !errors.Is(err, pool.ErrUnknownEndpoint) {
		t.Fatalf("Acquire(missing) = %v, want ErrUnknownEndpoint", err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, pool.ErrUnknownEndpoint) {
		t.Fatalf("Get(missing) = %v, want ErrUnknownEndpoint", err)
	}
}

func TestSetStats(t *testing.T) {
	var constructs atomic.Int64
	s := newTestSet(t, 0, time.Hour, &constructs)

	sess, err := s.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire(a) = %v", err)
	}
	defer sess.Release()

	stats := s.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() has %d entries, want 2", len(stats))
	}
	if stats["a"].AcquiredSessions != 1 {
		t.Errorf("a.AcquiredSessions = %d, want 1", stats["a"].AcquiredSessions)
	}
	if stats["b"].TotalSessions != 0 {
		t.Errorf("b.TotalSessions = %d, want 0", stats["b"].TotalSessions)
	}
}

func TestSetReaperDestroysExpired(t *testing.T) {
	var constructs atomic.Int64
	s := newTestSet(t, 10*time.Millisecond, 20*time.Millisecond, &constructs)

	sess, err := s.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire(a) = %v", err)
	}
	sess.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if s.Stats()["a"].TotalSessions == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reaper never destroyed the expired session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSetCloseIsIdempotent(t *testing.T) {
	var constructs atomic.Int64
	s := newTestSet(t, 10*time.Millisecond, time.Hour, &constructs)
	s.Start(context.Background())
	s.Close()
	s.Close()
}
