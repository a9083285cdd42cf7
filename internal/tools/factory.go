// Package tools maintains the catalog of invocable tools and constructs
// each one lazily, exactly once.
//
// A [Descriptor] declares a tool by name; the [Factory] builds the
// instance on the first [Factory.Resolve] of that name and hands out the
// same instance for the rest of the process lifetime. Concurrent first
// resolves of one name share a single constructor run, while distinct
// names construct fully in parallel. Constructor failures surface as
// [*ConstructionError] and are never cached, so a later resolve retries.
//
// All types are safe for concurrent use.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voletro/cordon/internal/observe"
)

// Tool is one invocable capability. Implementations must be safe for
// concurrent use; a single instance serves all callers.
type Tool interface {
	// Name returns the tool's catalog name.
	Name() string

	// Invoke runs the tool with JSON-decoded arguments and returns a
	// JSON-encodable result.
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Param describes one argument a tool accepts. The factory renders these
// into JSON schema documents on demand.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Constructor builds the tool instance on first resolve. The factory
// passes itself so tools can inspect the descriptor table (schema
// generation, catalog listings). Constructors run outside the factory
// lock and may block, e.g. to dial a remote server.
type Constructor func(ctx context.Context, f *Factory) (Tool, error)

// Descriptor declares one tool available for resolution.
type Descriptor struct {
	Name     string      `json:"name"`
	Category string      `json:"category,omitempty"`
	Params   []Param     `json:"params,omitempty"`
	New      Constructor `json:"-"`
}

// instance is one constructed tool. lastUsedAt holds unix nanos so the
// resolve fast path can touch it without the write lock.
type instance struct {
	tool       Tool
	createdAt  time.Time
	lastUsedAt atomic.Int64
}

// build tracks one in-flight constructor run so concurrent resolves of
// the same name share its result.
type build struct {
	wg   sync.WaitGroup
	tool Tool
	err  error
}

// Factory resolves tool names to singleton instances.
type Factory struct {
	descriptors map[string]Descriptor
	order       []string

	mu        sync.RWMutex
	instances map[string]*instance
	building  map[string]*build

	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewFactory builds a factory over the descriptor table. Descriptor
// names must be unique and every descriptor needs a constructor.
func NewFactory(descriptors []Descriptor, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		descriptors: make(map[string]Descriptor, len(descriptors)),
		instances:   make(map[string]*instance),
		building:    make(map[string]*build),
		metrics:     observe.DefaultMetrics(),
		logger:      logger.With("component", "tools"),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, errors.New("tools: descriptor with empty name")
		}
		if d.New == nil {
			return nil, fmt.Errorf("tools: descriptor %q has no constructor", d.Name)
		}
		if _, ok := f.descriptors[d.Name]; ok {
			return nil, fmt.Errorf("tools: duplicate tool name %q", d.Name)
		}
		f.descriptors[d.Name] = d
		f.order = append(f.order, d.Name)
	}
	return f, nil
}

// Resolve returns the singleton instance for name, constructing it on
// first use. Callers racing on the same unconstructed name block until
// the one running constructor finishes and then share its result.
func (f *Factory) Resolve(ctx context.Context, name string) (Tool, error) {
	f.mu.RLock()
	inst, ok := f.instances[name]
	f.mu.RUnlock()
	if ok {
		inst.lastUsedAt.Store(time.Now().UnixNano())
		return inst.tool, nil
	}

	// The descriptor table is immutable after construction.
	desc, ok := f.descriptors[name]
	if !ok {
		return nil, f.unknownTool(name)
	}

	f.mu.Lock()
	if inst, ok := f.instances[name]; ok {
		f.mu.Unlock()
		inst.lastUsedAt.Store(time.Now().UnixNano())
		return inst.tool, nil
	}
	if b, ok := f.building[name]; ok {
		f.mu.Unlock()
		b.wg.Wait()
		return b.tool, b.err
	}
	b := &build{}
	b.wg.Add(1)
	f.building[name] = b
	f.mu.Unlock()

	f.construct(ctx, desc, b)
	return b.tool, b.err
}

// construct runs the descriptor's constructor without holding the factory
// lock, publishes the instance on success, and resolves the build record
// either way. Failed builds leave no trace, so the next resolve retries.
func (f *Factory) construct(ctx context.Context, desc Descriptor, b *build) {
	start := time.Now()
	tool, err := desc.New(ctx, f)
	if err == nil && tool == nil {
		err = errors.New("constructor returned nil tool")
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	f.metrics.RecordToolConstruction(ctx, desc.Name, status)

	f.mu.Lock()
	delete(f.building, desc.Name)
	if err == nil {
		inst := &instance{tool: tool, createdAt: time.Now()}
		inst.lastUsedAt.Store(inst.createdAt.UnixNano())
		f.instances[desc.Name] = inst
		b.tool = tool
	} else {
		b.err = &ConstructionError{Name: desc.Name, Err: err}
	}
	f.mu.Unlock()
	b.wg.Done()

	if err != nil {
		f.logger.Warn("tool construction failed", "tool", desc.Name, "error", err)
		return
	}
	f.logger.Info("tool constructed", "tool", desc.Name, "took", time.Since(start))
}

// Invoke resolves name and runs the tool, recording the invocation span
// and counter. This is the path the dispatch API uses.
func (f *Factory) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, err := f.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "tools.invoke",
		trace.WithAttributes(attribute.String("tool", name)),
	)
	defer span.End()

	result, err := tool.Invoke(ctx, args)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	f.metrics.RecordToolInvocation(ctx, name, status)
	f.logger.Debug("tool invoked", "tool", name, "status", status)
	return result, err
}

// unknownTool wraps ErrUnknownTool with a closest-match hint when a
// known name is a plausible typo away.
func (f *Factory) unknownTool(name string) error {
	if s := f.closest(name); s != "" {
		return fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownTool, name, s)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// maxSuggestDistance bounds how far an edit-distance match may be to
// still count as a plausible typo.
const maxSuggestDistance = 3

func (f *Factory) closest(name string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, known := range f.order {
		if d := matchr.Levenshtein(name, known); d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}

// Descriptor returns the declaration registered under name.
func (f *Factory) Descriptor(name string) (Descriptor, bool) {
	d, ok := f.descriptors[name]
	return d, ok
}

// Names returns all registered tool names in sorted order.
func (f *Factory) Names() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	sort.Strings(names)
	return names
}

// Descriptors returns the declaration table in registration order.
func (f *Factory) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.descriptors[name])
	}
	return out
}

// InstanceCount returns how many tools have been constructed so far.
func (f *Factory) InstanceCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.instances)
}

// InstanceInfo describes one constructed tool for the ops surface.
type InstanceInfo struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Instances returns a snapshot of every constructed tool, sorted by name.
func (f *Factory) Instances() []InstanceInfo {
	f.mu.RLock()
	out := make([]InstanceInfo, 0, len(f.instances))
	for name, inst := range f.instances {
		out = append(out, InstanceInfo{
			Name:       name,
			CreatedAt:  inst.createdAt,
			LastUsedAt: time.Unix(0, inst.lastUsedAt.Load()),
		})
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close shuts down every constructed tool that holds external resources
// (those implementing io.Closer). The factory must not be used after.
func (f *Factory) Close() error {
	f.mu.Lock()
	instances := f.instances
	f.instances = make(map[string]*instance)
	f.mu.Unlock()

	var errs []error
	for name, inst := range instances {
		if c, ok := inst.tool.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
