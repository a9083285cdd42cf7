// Package api exposes the gateway's JSON-over-HTTP surface: tool dispatch
// and an ops snapshot.
//
// The surface is deliberately minimal — the dispatch layer in front of
// cordon speaks plain JSON, and everything operational (caches, breakers,
// pools, tools) is observable through one stats document. Error kinds map
// to HTTP statuses so callers can tell "retry later" from "fix your
// request" without parsing messages.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voletro/cordon/internal/cache"
	"github.com/voletro/cordon/internal/pool"
	"github.com/voletro/cordon/internal/resilience"
	"github.com/voletro/cordon/internal/tools"
	"github.com/voletro/cordon/pkg/provider"
)

// maxDispatchBody caps the request body of a dispatch call.
const maxDispatchBody = 1 << 20

// Handler serves the /v1 routes. All fields except Logger are required.
type Handler struct {
	Factory *tools.Factory
	Caches  *cache.Manager
	Breaker *resilience.CircuitBreaker
	Pools   *pool.Set

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Register adds the dispatch and stats routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/dispatch", h.Dispatch)
	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /v1/tools", h.Tools)
}

// dispatchRequest is the body of POST /v1/dispatch.
type dispatchRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// dispatchResponse wraps a successful tool result.
type dispatchResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Dispatch resolves the named tool and invokes it with the given
// arguments. The tool is constructed on first use; construction failures
// are not cached, so a later dispatch retries.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDispatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Tool == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", errors.New("tool name is required"))
		return
	}

	result, err := h.Factory.Invoke(r.Context(), req.Tool, req.Args)
	if err != nil {
		h.writeInvokeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{Tool: req.Tool, Result: result})
}

// writeInvokeError maps the error taxonomy onto HTTP statuses:
// unknown tool → 404, bad arguments → 400, circuit open → 503 with
// Retry-After, permanent provider rejection → its 4xx status, exhausted
// transient failures → 502, construction failure → 500.
func (h *Handler) writeInvokeError(w http.ResponseWriter, err error) {
	var consErr *tools.ConstructionError
	var provErr *provider.Error

	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		h.writeError(w, http.StatusNotFound, "unknown_tool", err)

	case errors.Is(err, tools.ErrBadArgs):
		h.writeError(w, http.StatusBadRequest, "bad_request", err)

	case provider.IsCircuitOpen(err):
		w.Header().Set("Retry-After", "5")
		h.writeError(w, http.StatusServiceUnavailable, "circuit_open", err)

	case provider.IsPermanent(err):
		status := http.StatusBadRequest
		if errors.As(err, &provErr) && provErr.Status >= 400 && provErr.Status < 500 {
			status = provErr.Status
		}
		h.writeError(w, status, "permanent", err)

	case errors.As(err, &consErr):
		h.writeError(w, http.StatusInternalServerError, "construction_failed", err)

	default:
		h.writeError(w, http.StatusBadGateway, "transient", err)
	}
}

// statsDocument aggregates every component snapshot for GET /v1/stats.
type statsDocument struct {
	Caches   map[string]cache.Stats                `json:"caches"`
	Breakers map[string]resilience.BreakerSnapshot `json:"breakers"`
	Pools    map[string]pool.Stat                  `json:"pools"`
	Tools    statsTools                            `json:"tools"`
}

type statsTools struct {
	Registered  []string             `json:"registered"`
	Constructed []tools.InstanceInfo `json:"constructed"`
}

// Stats returns one snapshot document covering caches, circuit breakers,
// session pools, and constructed tools.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsDocument{
		Caches:   h.Caches.Snapshot(),
		Breakers: h.Breaker.SnapshotAll(),
		Pools:    h.Pools.Stats(),
		Tools: statsTools{
			Registered:  h.Factory.Names(),
			Constructed: h.Factory.Instances(),
		},
	})
}

// Tools returns the descriptor catalog so clients can discover what they
// may dispatch.
func (h *Handler) Tools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": h.Factory.Descriptors(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind string, err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if status >= 500 {
		logger.Warn("dispatch failed", "kind", kind, "error", err)
	} else {
		logger.Debug("dispatch rejected", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// writeJSON encodes v as JSON with the given status code. On encoding
// failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}
