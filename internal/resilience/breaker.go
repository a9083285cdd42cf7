package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Allow] when the endpoint's
// breaker is open and the recovery timeout has not yet elapsed, or when a
// half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of one endpoint's breaker.
type State int

const (
	// StateClosed is the normal operating state — all calls are admitted.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures. Calls are rejected immediately with [ErrCircuitOpen]
	// until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the recovery
	// timeout. Exactly one trial call is admitted; its outcome decides
	// whether the breaker closes or re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string name in snapshots.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome is the result class a caller reports for one admitted call.
type Outcome int

const (
	// OutcomeSuccess is a completed call with a usable response.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure is a transient failure (network error, timeout, or
	// 5xx). Only these count toward the failure threshold.
	OutcomeFailure

	// OutcomeNeutral is a result that says nothing about endpoint health:
	// a well-formed 4xx rejection or caller cancellation. Neutral
	// outcomes leave state untouched but resolve a held probe slot.
	OutcomeNeutral
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeNeutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the per-endpoint breaker tuning knobs.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures in
	// the closed state before the breaker opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the next
	// call attempt is admitted as a half-open probe. Default: 30s.
	RecoveryTimeout time.Duration
}

// record is the mutable per-endpoint breaker state. Owned exclusively by
// its CircuitBreaker and only touched under the breaker mutex, so
// concurrent callers never observe a torn state.
type record struct {
	cfg               BreakerConfig
	state             State
	consecutiveFails  int
	lastFailureAt     time.Time
	lastStateChangeAt time.Time
	probeInFlight     bool
}

// BreakerSnapshot is a read-only view of one endpoint's breaker record.
type BreakerSnapshot struct {
	EndpointID          string    `json:"endpoint_id"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastStateChangeAt   time.Time `json:"last_state_change_at,omitzero"`
	ProbeInFlight       bool      `json:"probe_in_flight"`
}

// TransitionHook is called after a state transition with the endpoint id
// and the edge taken. Hooks run under the breaker mutex and must be fast.
type TransitionHook func(endpointID string, from, to State)

// CircuitBreaker tracks failure state per endpoint and short-circuits
// calls to endpoints it has determined are failing.
//
// Callers first [CircuitBreaker.Allow] a call and, once admitted, must
// [CircuitBreaker.Report] its outcome exactly once, passing back the
// probe flag Allow returned. The split (rather than an Execute wrapper)
// exists because the relay retries internally and reports one outcome
// per logical call, not per attempt.
//
// While a probe is in flight the half-open state cannot change: every
// other caller is rejected and non-probe reports never transition a
// half-open record. Only the probe resolves it.
type CircuitBreaker struct {
	mu      sync.Mutex
	records map[string]*record
	hook    TransitionHook
	now     func() time.Time
}

// NewCircuitBreaker creates breaker records for every configured
// endpoint. Zero-value config fields are replaced with defaults. hook
// may be nil.
func NewCircuitBreaker(cfgs map[string]BreakerConfig, hook TransitionHook) *CircuitBreaker {
	records := make(map[string]*record, len(cfgs))
	now := time.Now()
	for id, cfg := range cfgs {
		if cfg.FailureThreshold <= 0 {
			cfg.FailureThreshold = 5
		}
		if cfg.RecoveryTimeout <= 0 {
			cfg.RecoveryTimeout = 30 * time.Second
		}
		records[id] = &record{cfg: cfg, state: StateClosed, lastStateChangeAt: now}
	}
	return &CircuitBreaker{records: records, hook: hook, now: time.Now}
}

// Allow decides whether a call to the endpoint may proceed. A nil error
// admits the call; probe reports whether it was admitted as the
// half-open trial call, which the caller must pass back to Report.
//
// In the open state, the first attempt after the recovery timeout
// transitions the breaker to half-open and is admitted as the probe;
// earlier attempts are rejected with [ErrCircuitOpen] and must not touch
// the network.
func (b *CircuitBreaker) Allow(endpointID string) (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[endpointID]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointID)
	}

	switch rec.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if b.now().Sub(rec.lastStateChangeAt) < rec.cfg.RecoveryTimeout {
			return false, ErrCircuitOpen
		}
		b.transitionLocked(endpointID, rec, StateHalfOpen)
		rec.probeInFlight = true
		slog.Info("circuit breaker admitting half-open probe", "endpoint", endpointID)
		return true, nil

	default: // StateHalfOpen
		if rec.probeInFlight {
			return false, ErrCircuitOpen
		}
		// The previous probe resolved neutrally; admit a new one.
		rec.probeInFlight = true
		return true, nil
	}
}

// Report records the final outcome of an admitted call. It must be
// called exactly once per successful Allow, with the probe flag Allow
// returned. Outcomes from calls admitted before a state change (probe
// false, state no longer closed) only update failure timestamps — they
// never resolve another call's probe.
func (b *CircuitBreaker) Report(endpointID string, outcome Outcome, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[endpointID]
	if !ok {
		return
	}

	if probe {
		b.resolveProbeLocked(endpointID, rec, outcome)
		return
	}

	switch outcome {
	case OutcomeSuccess:
		if rec.state == StateClosed {
			rec.consecutiveFails = 0
		}

	case OutcomeFailure:
		rec.lastFailureAt = b.now()
		if rec.state != StateClosed {
			// Stale result from a call admitted before the breaker
			// tripped; the timestamp is recorded, nothing transitions.
			return
		}
		rec.consecutiveFails++
		if rec.consecutiveFails >= rec.cfg.FailureThreshold {
			b.transitionLocked(endpointID, rec, StateOpen)
			slog.Warn("circuit breaker opened",
				"endpoint", endpointID,
				"consecutive_failures", rec.consecutiveFails)
		}

	case OutcomeNeutral:
		// Says nothing about endpoint health.
	}
}

// resolveProbeLocked applies the probe call's outcome. The record is
// necessarily half-open here: while the probe is in flight no other
// report can transition it. Must be called with b.mu held.
func (b *CircuitBreaker) resolveProbeLocked(endpointID string, rec *record, outcome Outcome) {
	rec.probeInFlight = false

	switch outcome {
	case OutcomeSuccess:
		rec.consecutiveFails = 0
		b.transitionLocked(endpointID, rec, StateClosed)
		slog.Info("circuit breaker closed after successful probe", "endpoint", endpointID)

	case OutcomeFailure:
		rec.lastFailureAt = b.now()
		b.transitionLocked(endpointID, rec, StateOpen)
		slog.Warn("circuit breaker re-opened after failed probe", "endpoint", endpointID)

	case OutcomeNeutral:
		// The probe ended without a verdict (4xx or cancellation). Stay
		// half-open; the next admitted call becomes the new probe.
	}
}

// transitionLocked moves rec to the target state, restarting the state
// timer, and fires the hook. Must be called with b.mu held.
func (b *CircuitBreaker) transitionLocked(endpointID string, rec *record, to State) {
	from := rec.state
	rec.state = to
	rec.lastStateChangeAt = b.now()
	if b.hook != nil {
		b.hook(endpointID, from, to)
	}
}

// State returns the endpoint's current state, or [StateClosed] for
// unknown endpoints. An open breaker keeps reporting open after the
// recovery timeout elapses: the open → half-open transition happens only
// inside Allow, so observers (including the relay's mid-retry re-check)
// never race a phantom probe.
func (b *CircuitBreaker) State(endpointID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[endpointID]
	if !ok {
		return StateClosed
	}
	return rec.state
}

// Snapshot returns a read-only view of one endpoint's record.
func (b *CircuitBreaker) Snapshot(endpointID string) (BreakerSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[endpointID]
	if !ok {
		return BreakerSnapshot{}, false
	}
	return b.snapshotLocked(endpointID, rec), true
}

// SnapshotAll returns views of every endpoint's record keyed by id.
func (b *CircuitBreaker) SnapshotAll() map[string]BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := make(map[string]BreakerSnapshot, len(b.records))
	for id, rec := range b.records {
		snap[id] = b.snapshotLocked(id, rec)
	}
	return snap
}

// snapshotLocked builds a snapshot. Must be called with b.mu held.
func (b *CircuitBreaker) snapshotLocked(endpointID string, rec *record) BreakerSnapshot {
	return BreakerSnapshot{
		EndpointID:          endpointID,
		State:               rec.state,
		ConsecutiveFailures: rec.consecutiveFails,
		LastFailureAt:       rec.lastFailureAt,
		LastStateChangeAt:   rec.lastStateChangeAt,
		ProbeInFlight:       rec.probeInFlight,
	}
}

// Reset manually forces the endpoint's breaker back to closed, clearing
// all failure counters. Intended for operator use.
func (b *CircuitBreaker) Reset(endpointID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[endpointID]
	if !ok {
		return
	}
	rec.consecutiveFails = 0
	rec.probeInFlight = false
	if rec.state != StateClosed {
		b.transitionLocked(endpointID, rec, StateClosed)
	}
	slog.Info("circuit breaker manually reset", "endpoint", endpointID)
}
