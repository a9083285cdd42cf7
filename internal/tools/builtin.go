package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/voletro/cordon/internal/cache"
	"github.com/voletro/cordon/internal/observe"
	"github.com/voletro/cordon/internal/pool"
	"github.com/voletro/cordon/internal/relay"
	"github.com/voletro/cordon/internal/stream"
	"github.com/voletro/cordon/pkg/provider"
)

// checkTimeout bounds a single endpoint validation probe.
const checkTimeout = 5 * time.Second

// Deps carries the shared infrastructure the built-in tools close over.
// Metrics defaults to [observe.DefaultMetrics] and Logger to
// [slog.Default] when nil; the other fields are validated lazily by each
// tool's constructor, so a partially wired Deps only fails the tools
// that actually need the missing piece.
type Deps struct {
	Relay   *relay.Client
	Caches  *cache.Manager
	Pools   *pool.Set
	Stream  *stream.Reader
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Builtins returns the descriptor table for the built-in tools.
func Builtins(d Deps) []Descriptor {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	logger := d.Logger.With("component", "tools")

	return []Descriptor{
		{
			Name:     "chat.complete",
			Category: "chat",
			Params: []Param{
				{Name: "endpoint", Type: "string", Description: "endpoint id to call", Required: true},
				{Name: "prompt", Type: "string", Description: "user prompt", Required: true},
				{Name: "system", Type: "string", Description: "system instruction"},
				{Name: "model", Type: "string", Description: "model override for this call"},
				{Name: "max_tokens", Type: "integer", Description: "completion token cap"},
				{Name: "temperature", Type: "number", Description: "sampling temperature"},
			},
			New: func(context.Context, *Factory) (Tool, error) {
				if d.Relay == nil {
					return nil, errors.New("relay client not configured")
				}
				return &chatComplete{relay: d.Relay}, nil
			},
		},
		{
			Name:     "chat.failover",
			Category: "chat",
			Params: []Param{
				{Name: "prompt", Type: "string", Description: "user prompt", Required: true},
				{Name: "system", Type: "string", Description: "system instruction"},
				{Name: "model", Type: "string", Description: "model override for this call"},
				{Name: "max_tokens", Type: "integer", Description: "completion token cap"},
				{Name: "temperature", Type: "number", Description: "sampling temperature"},
				{Name: "endpoints", Type: "array", Description: "candidate endpoint ids, configuration order when omitted"},
			},
			New: func(context.Context, *Factory) (Tool, error) {
				if d.Relay == nil {
					return nil, errors.New("relay client not configured")
				}
				return &chatFailover{relay: d.Relay}, nil
			},
		},
		{
			Name:     "cost.estimate",
			Category: "estimate",
			Params: []Param{
				{Name: "prompt", Type: "string", Description: "prompt to estimate", Required: true},
				{Name: "system", Type: "string", Description: "system instruction included in the estimate"},
				{Name: "model", Type: "string", Description: "model whose pricing applies"},
			},
			New: func(context.Context, *Factory) (Tool, error) {
				if d.Caches == nil {
					return nil, errors.New("cache manager not configured")
				}
				return &costEstimate{caches: d.Caches, metrics: d.Metrics}, nil
			},
		},
		{
			Name:     "schema.generate",
			Category: "introspection",
			Params: []Param{
				{Name: "tool", Type: "string", Description: "tool whose argument schema to generate", Required: true},
			},
			New: func(_ context.Context, f *Factory) (Tool, error) {
				if d.Caches == nil {
					return nil, errors.New("cache manager not configured")
				}
				return &schemaGenerate{factory: f, caches: d.Caches, metrics: d.Metrics}, nil
			},
		},
		{
			Name:     "endpoint.validate",
			Category: "ops",
			Params: []Param{
				{Name: "endpoint", Type: "string", Description: "endpoint id to validate", Required: true},
				{Name: "refresh", Type: "boolean", Description: "bypass the memoized result"},
			},
			New: func(context.Context, *Factory) (Tool, error) {
				if d.Pools == nil || d.Caches == nil {
					return nil, errors.New("session pools and cache manager not configured")
				}
				return &endpointValidate{
					pools:   d.Pools,
					caches:  d.Caches,
					metrics: d.Metrics,
					logger:  logger,
				}, nil
			},
		},
		{
			Name:     "doc.ingest",
			Category: "ingest",
			Params: []Param{
				{Name: "path", Type: "string", Description: "local file to ingest", Required: true},
			},
			New: func(context.Context, *Factory) (Tool, error) {
				if d.Stream == nil {
					return nil, errors.New("stream reader not configured")
				}
				return &docIngest{stream: d.Stream}, nil
			},
		},
	}
}

// chatRequest assembles a provider request from the shared chat
// arguments.
func chatRequest(args map[string]any) (provider.Request, error) {
	prompt, err := stringArg(args, "prompt")
	if err != nil {
		return provider.Request{}, err
	}
	system, err := optStringArg(args, "system")
	if err != nil {
		return provider.Request{}, err
	}
	model, err := optStringArg(args, "model")
	if err != nil {
		return provider.Request{}, err
	}
	maxTokens, err := optIntArg(args, "max_tokens")
	if err != nil {
		return provider.Request{}, err
	}
	temperature, err := optFloatArg(args, "temperature")
	if err != nil {
		return provider.Request{}, err
	}
	return provider.Request{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		System:      system,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}, nil
}

func chatResult(endpoint string, resp *provider.Response) map[string]any {
	out := map[string]any{
		"content": resp.Content,
		"usage":   resp.Usage,
	}
	if resp.Model != "" {
		out["model"] = resp.Model
	}
	if endpoint != "" {
		out["endpoint"] = endpoint
	}
	return out
}

// chatComplete sends one prompt to one named endpoint through the full
// resilience path.
type chatComplete struct {
	relay *relay.Client
}

func (t *chatComplete) Name() string { return "chat.complete" }

func (t *chatComplete) Invoke(ctx context.Context, args map[string]any) (any, error) {
	endpoint, err := stringArg(args, "endpoint")
	if err != nil {
		return nil, err
	}
	req, err := chatRequest(args)
	if err != nil {
		return nil, err
	}
	resp, err := t.relay.Call(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	return chatResult(endpoint, resp), nil
}

// chatFailover walks candidate endpoints until one answers.
type chatFailover struct {
	relay *relay.Client
}

func (t *chatFailover) Name() string { return "chat.failover" }

func (t *chatFailover) Invoke(ctx context.Context, args map[string]any) (any, error) {
	candidates, err := optStringsArg(args, "endpoints")
	if err != nil {
		return nil, err
	}
	req, err := chatRequest(args)
	if err != nil {
		return nil, err
	}
	resp, err := t.relay.Failover(ctx, candidates, req)
	if err != nil {
		return nil, err
	}
	return chatResult("", resp), nil
}

// priceTable maps model id prefixes to rough per-million-token input
// prices in USD, longest prefix first. Estimation only.
var priceTable = []struct {
	prefix  string
	perMTok float64
}{
	{"gpt-4o-mini", 0.15},
	{"gpt-4o", 2.50},
	{"claude-3-5-haiku", 0.80},
	{"claude-3-5-sonnet", 3.00},
	{"claude-3-7-sonnet", 3.00},
}

const defaultPricePerMTok = 1.00

func priceFor(model string) float64 {
	for _, row := range priceTable {
		if strings.HasPrefix(model, row.prefix) {
			return row.perMTok
		}
	}
	return defaultPricePerMTok
}

// costEstimate approximates the token count and input cost of a prompt,
// memoized per model+system+prompt.
type costEstimate struct {
	caches  *cache.Manager
	metrics *observe.Metrics
}

func (t *costEstimate) Name() string { return "cost.estimate" }

func (t *costEstimate) Invoke(ctx context.Context, args map[string]any) (any, error) {
	prompt, err := stringArg(args, "prompt")
	if err != nil {
		return nil, err
	}
	system, err := optStringArg(args, "system")
	if err != nil {
		return nil, err
	}
	model, err := optStringArg(args, "model")
	if err != nil {
		return nil, err
	}

	loaded := false
	v, err := t.caches.GetOrLoad(ctx, cache.CostEstimate, estimateKey(model, system, prompt),
		func(context.Context) (any, error) {
			loaded = true
			tokens := provider.EstimateTokens(system, []provider.Message{{Role: "user", Content: prompt}})
			price := priceFor(model)
			return map[string]any{
				"model":              model,
				"prompt_tokens":      tokens,
				"price_per_mtok_usd": price,
				"estimated_cost_usd": float64(tokens) * price / 1e6,
			}, nil
		})
	if err != nil {
		return nil, err
	}
	t.metrics.RecordCacheRequest(ctx, cache.CostEstimate, !loaded)
	return v, nil
}

// estimateKey hashes the inputs so arbitrarily long prompts stay cheap
// to key and compare.
func estimateKey(model, system, prompt string) string {
	h := sha256.New()
	io.WriteString(h, model)
	h.Write([]byte{0})
	io.WriteString(h, system)
	h.Write([]byte{0})
	io.WriteString(h, prompt)
	return hex.EncodeToString(h.Sum(nil))
}

// schemaGenerate renders a registered tool's parameter table as a JSON
// schema document, memoized per tool name.
type schemaGenerate struct {
	factory *Factory
	caches  *cache.Manager
	metrics *observe.Metrics
}

func (t *schemaGenerate) Name() string { return "schema.generate" }

func (t *schemaGenerate) Invoke(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "tool")
	if err != nil {
		return nil, err
	}

	loaded := false
	v, err := t.caches.GetOrLoad(ctx, cache.GeneratedSchema, name,
		func(context.Context) (any, error) {
			loaded = true
			desc, ok := t.factory.Descriptor(name)
			if !ok {
				return nil, t.factory.unknownTool(name)
			}
			return paramSchema(desc), nil
		})
	if err != nil {
		return nil, err
	}
	t.metrics.RecordCacheRequest(ctx, cache.GeneratedSchema, !loaded)
	return v, nil
}

// paramSchema renders a descriptor's parameter table as a JSON schema
// object.
func paramSchema(desc Descriptor) map[string]any {
	properties := make(map[string]any, len(desc.Params))
	var required []string
	for _, p := range desc.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// endpointValidate probes an endpoint's adapter and memoizes the result.
// Each fresh probe also refreshes the short-TTL availability hint that
// failover ordering and readiness reporting consult.
type endpointValidate struct {
	pools   *pool.Set
	caches  *cache.Manager
	metrics *observe.Metrics
	logger  *slog.Logger
}

func (t *endpointValidate) Name() string { return "endpoint.validate" }

func (t *endpointValidate) Invoke(ctx context.Context, args map[string]any) (any, error) {
	endpoint, err := stringArg(args, "endpoint")
	if err != nil {
		return nil, err
	}
	refresh, err := optBoolArg(args, "refresh")
	if err != nil {
		return nil, err
	}
	if refresh {
		t.caches.Invalidate(cache.EndpointValidation, endpoint)
	}

	loaded := false
	v, err := t.caches.GetOrLoad(ctx, cache.EndpointValidation, endpoint,
		func(ctx context.Context) (any, error) {
			loaded = true
			return t.check(ctx, endpoint)
		})
	if err != nil {
		return nil, err
	}
	t.metrics.RecordCacheRequest(ctx, cache.EndpointValidation, !loaded)
	return v, nil
}

// check runs the adapter probe on a borrowed session. An unreachable
// endpoint is a result, not an error; only infrastructure problems
// (unknown endpoint, pool exhaustion) fail the load.
func (t *endpointValidate) check(ctx context.Context, endpoint string) (any, error) {
	sess, err := t.pools.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	checkErr := sess.Adapter().Check(checkCtx)
	cancel()

	healthy := checkErr == nil
	if healthy {
		sess.Release()
	} else {
		sess.Destroy()
	}

	if err := t.caches.Put(cache.EndpointAvailability, endpoint, healthy); err != nil {
		t.logger.Debug("availability hint not recorded", "endpoint", endpoint, "error", err)
	}

	result := map[string]any{
		"endpoint":   endpoint,
		"healthy":    healthy,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if checkErr != nil {
		result["error"] = checkErr.Error()
		t.logger.Warn("endpoint validation failed", "endpoint", endpoint, "error", checkErr)
	}
	return result, nil
}

// docIngest streams a local file through the bounded reader and reports
// size, chunking, and digest. Files past the reader's byte budget come
// back marked truncated instead of failing.
type docIngest struct {
	stream *stream.Reader
}

func (t *docIngest) Name() string { return "doc.ingest" }

func (t *docIngest) Invoke(ctx context.Context, args map[string]any) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}

	digest := sha256.New()
	var (
		total     int64
		chunks    int
		truncated bool
	)
	for chunk, err := range t.stream.Read(ctx, f) {
		if err != nil {
			var te *stream.TruncatedError
			if errors.As(err, &te) {
				truncated = true
				break
			}
			return nil, fmt.Errorf("ingesting %q: %w", path, err)
		}
		digest.Write(chunk)
		total += int64(len(chunk))
		chunks++
	}

	return map[string]any{
		"path":      path,
		"bytes":     total,
		"chunks":    chunks,
		"sha256":    hex.EncodeToString(digest.Sum(nil)),
		"truncated": truncated,
	}, nil
}
