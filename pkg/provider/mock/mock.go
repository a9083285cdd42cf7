// Package mock provides a test double for the provider.Adapter interface.
//
// Use Adapter in unit tests to verify that the relay sends correct requests
// and to feed controlled responses without a live backend. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
//
// Example:
//
//	a := &mock.Adapter{
//	    DoResponse: &provider.Response{Content: "Hello!"},
//	}
//	resp, err := a.Do(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voletro/cordon/pkg/provider"
)

// DoCall records a single invocation of Do.
type DoCall struct {
	// Ctx is the context passed to Do.
	Ctx context.Context
	// Req is the request passed to Do.
	Req provider.Request
}

// Adapter is a mock implementation of provider.Adapter.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject errors.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DoResponse is returned by Do. May be nil (returns nil, nil).
	DoResponse *provider.Response

	// DoErr, if non-nil, is returned as the error from Do.
	DoErr error

	// CheckErr, if non-nil, is returned as the error from Check.
	CheckErr error

	// --- Call records (read after test) ---

	// DoCalls records every invocation of Do in order.
	DoCalls []DoCall

	// CheckCallCount is the number of times Check was called.
	CheckCallCount int
}

// FromSettings builds an Adapter that answers every call with a canned
// response. It backs the "mock" registry entry so configurations can declare
// synthetic endpoints for smoke tests and local development.
func FromSettings(s provider.Settings) (provider.Adapter, error) {
	return &Adapter{
		DoResponse: &provider.Response{
			Content: "mock response",
			Model:   s.Model,
		},
	}, nil
}

// Do records the call and returns DoResponse, DoErr.
func (a *Adapter) Do(ctx context.Context, req provider.Request) (*provider.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DoCalls = append(a.DoCalls, DoCall{Ctx: ctx, Req: req})
	return a.DoResponse, a.DoErr
}

// Check records the call and returns CheckErr.
func (a *Adapter) Check(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CheckCallCount++
	return a.CheckErr
}

// Reset clears all recorded calls. Thread-safe.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DoCalls = nil
	a.CheckCallCount = 0
}

// Ensure Adapter implements provider.Adapter at compile time.
var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.Constructor = FromSettings
)
