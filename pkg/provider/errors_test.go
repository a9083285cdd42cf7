package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

var errTest = errors.New("test error")

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusBadRequest, KindPermanent},
		{http.StatusUnauthorized, KindPermanent},
		{http.StatusNotFound, KindPermanent},
		{http.StatusUnprocessableEntity, KindPermanent},
		{0, KindTransient},
	}
	for _, tc := range tests {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindPermanent, "permanent"},
		{KindCircuitOpen, "circuit_open"},
		{Kind(42), "kind(42)"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tc.kind), got, tc.want)
		}
	}
}

func TestErrorMessageIncludesDetail(t *testing.T) {
	err := &Error{
		Endpoint: "openai-primary",
		Kind:     KindTransient,
		Status:   503,
		Attempts: 3,
		Err:      errTest,
	}
	got := err.Error()
	for _, want := range []string{"openai-primary", "transient", "503", "3 attempts", "test error"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Transient(502, errTest)
	if !errors.Is(err, errTest) {
		t.Error("errors.Is(Transient(...), errTest) = false, want true")
	}
}

func TestCircuitOpenMatchesSentinel(t *testing.T) {
	err := CircuitOpen("ep-1", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("errors.Is(CircuitOpen(...), ErrCircuitOpen) = false, want true")
	}
	if !IsCircuitOpen(err) {
		t.Error("IsCircuitOpen = false, want true")
	}

	wrapped := fmt.Errorf("outer: %w", CircuitOpen("ep-1", errTest))
	if !IsCircuitOpen(wrapped) {
		t.Error("IsCircuitOpen after wrapping = false, want true")
	}
	if !errors.Is(wrapped, errTest) {
		t.Error("cause lost when wrapping with CircuitOpen")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"transient error", Transient(500, errTest), KindTransient},
		{"permanent error", Permanent(400, errTest), KindPermanent},
		{"circuit open", CircuitOpen("ep", nil), KindCircuitOpen},
		{"wrapped permanent", fmt.Errorf("x: %w", Permanent(404, errTest)), KindPermanent},
		{"plain error", errTest, KindTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsTransientIsPermanentNilSafe(t *testing.T) {
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true, want false")
	}
	if IsPermanent(nil) {
		t.Error("IsPermanent(nil) = true, want false")
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(context.Canceled) {
		t.Error("IsCanceled(context.Canceled) = false, want true")
	}
	if !IsCanceled(fmt.Errorf("call: %w", context.DeadlineExceeded)) {
		t.Error("IsCanceled(wrapped DeadlineExceeded) = false, want true")
	}
	if IsCanceled(errTest) {
		t.Error("IsCanceled(plain error) = true, want false")
	}
}
