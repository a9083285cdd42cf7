package tools_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voletro/cordon/internal/tools"
)

// stubTool is a minimal Tool for factory tests.
type stubTool struct {
	name    string
	invoked atomic.Int64
	result  any
	err     error
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Invoke(context.Context, map[string]any) (any, error) {
	t.invoked.Add(1)
	return t.result, t.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// simpleDescriptor declares a tool whose constructor always succeeds,
// bumping constructions when non-nil.
func simpleDescriptor(name string, constructions *atomic.Int64) tools.Descriptor {
	return tools.Descriptor{
		Name:     name,
		Category: "test",
		New: func(context.Context, *tools.Factory) (tools.Tool, error) {
			if constructions != nil {
				constructions.Add(1)
			}
			return &stubTool{name: name, result: "done"}, nil
		},
	}
}

func TestNewFactory_RejectsDuplicateNames(t *testing.T) {
	_, err := tools.NewFactory([]tools.Descriptor{
		simpleDescriptor("echo", nil),
		simpleDescriptor("echo", nil),
	}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("NewFactory = %v, want duplicate-name error", err)
	}
}

func TestNewFactory_RejectsNilConstructor(t *testing.T) {
	_, err := tools.NewFactory([]tools.Descriptor{{Name: "echo"}}, discardLogger())
	if err == nil {
		t.Fatal("NewFactory accepted a descriptor without a constructor")
	}
}

func TestResolve_SameInstanceEachTime(t *testing.T) {
	var constructions atomic.Int64
	f, err := tools.NewFactory([]tools.Descriptor{
		simpleDescriptor("echo", &constructions),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	first, err := f.Resolve(context.Background(), "echo")
	if err != nil {
		t.Fatalf("first Resolve = %v", err)
	}
	second, err := f.Resolve(context.Background(), "echo")
	if err != nil {
		t.Fatalf("second Resolve = %v", err)
	}
	if first != second {
		t.Error("Resolve returned different instances for the same name")
	}
	if got := constructions.Load(); got != 1 {
		t.Errorf("constructions = %d, want 1", got)
	}
}

func TestResolve_ConcurrentSingleConstruction(t *testing.T) {
	var constructions atomic.Int64
	f, err := tools.NewFactory([]tools.Descriptor{{
		Name: "slow",
		New: func(context.Context, *tools.Factory) (tools.Tool, error) {
			constructions.Add(1)
			time.Sleep(20 * time.Millisecond)
			return &stubTool{name: "slow"}, nil
		},
	}}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	const n = 32
	instances := make([]tools.Tool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tool, err := f.Resolve(context.Background(), "slow")
			if err != nil {
				t.Errorf("Resolve = %v", err)
				return
			}
			instances[i] = tool
		}()
	}
	wg.Wait()

	if got := constructions.Load(); got != 1 {
		t.Fatalf("constructions = %d, want 1 under concurrent first access", got)
	}
	for i := 1; i < n; i++ {
		if instances[i] != instances[0] {
			t.Fatalf("instance %d differs from instance 0", i)
		}
	}
	if got := f.InstanceCount(); got != 1 {
		t.Errorf("InstanceCount = %d, want 1", got)
	}
}

func TestResolve_DistinctNamesConstructInParallel(t *testing.T) {
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	// Each constructor waits for the other to start; serialized
	// construction would time both out.
	waitFor := func(ch chan struct{}) error {
		select {
		case <-ch:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("peer constructor never started")
		}
	}

	f, err := tools.NewFactory([]tools.Descriptor{
		{
			Name: "tool-a",
			New: func(context.Context, *tools.Factory) (tools.Tool, error) {
				close(aStarted)
				if err := waitFor(bStarted); err != nil {
					return nil, err
				}
				return &stubTool{name: "tool-a"}, nil
			},
		},
		{
			Name: "tool-b",
			New: func(context.Context, *tools.Factory) (tools.Tool, error) {
				close(bStarted)
				if err := waitFor(aStarted); err != nil {
					return nil, err
				}
				return &stubTool{name: "tool-b"}, nil
			},
		},
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, name := range []string{"tool-a", "tool-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.Resolve(context.Background(), name)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Resolve %d = %v, want success", i, err)
		}
	}
}

func TestResolve_FailureNotCached(t *testing.T) {
	var constructions atomic.Int64
	sentinel := errors.New("backend unreachable")

	f, err := tools.NewFactory([]tools.Descriptor{{
		Name: "flaky",
		New: func(context.Context, *tools.Factory) (tools.Tool, error) {
			if constructions.Add(1) == 1 {
				return nil, sentinel
			}
			return &stubTool{name: "flaky", result: "ok"}, nil
		},
	}}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	_, err = f.Resolve(context.Background(), "flaky")
	var ce *tools.ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("first Resolve = %v, want *ConstructionError", err)
	}
	if ce.Name != "flaky" || !errors.Is(err, sentinel) {
		t.Errorf("ConstructionError = %v, want name flaky wrapping the cause", ce)
	}
	if got := f.InstanceCount(); got != 0 {
		t.Fatalf("InstanceCount = %d after failed construction, want 0", got)
	}

	tool, err := f.Resolve(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("second Resolve = %v, want retried success", err)
	}
	if tool == nil {
		t.Fatal("second Resolve returned nil tool")
	}
	if got := constructions.Load(); got != 2 {
		t.Errorf("constructions = %d, want 2", got)
	}
}

func TestResolve_WaitersShareConstructionError(t *testing.T) {
	var constructions atomic.Int64
	var startOnce sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	sentinel := errors.New("backend unreachable")

	f, err := tools.NewFactory([]tools.Descriptor{{
		Name: "flaky",
		New: func(context.Context, *tools.Factory) (tools.Tool, error) {
			constructions.Add(1)
			startOnce.Do(func() { close(started) })
			<-release
			return nil, sentinel
		},
	}}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	results := make(chan error, 2)
	go func() {
		_, err := f.Resolve(context.Background(), "flaky")
		results <- err
	}()
	<-started
	go func() {
		_, err := f.Resolve(context.Background(), "flaky")
		results <- err
	}()
	// Let the second resolver park on the in-flight build record.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		err := <-results
		var ce *tools.ConstructionError
		if !errors.As(err, &ce) {
			t.Fatalf("Resolve = %v, want *ConstructionError", err)
		}
		if !errors.Is(err, sentinel) {
			t.Errorf("Resolve = %v, want wrapped cause", err)
		}
	}
	if got := constructions.Load(); got != 1 {
		t.Errorf("constructions = %d, want 1 shared by both waiters", got)
	}
}

func TestResolve_UnknownTool(t *testing.T) {
	f, err := tools.NewFactory([]tools.Descriptor{
		simpleDescriptor("chat.complete", nil),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	_, err = f.Resolve(context.Background(), "chat.compete")
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("Resolve = %v, want ErrUnknownTool", err)
	}
	if !strings.Contains(err.Error(), `did you mean "chat.complete"`) {
		t.Errorf("error %q missing closest-match suggestion", err)
	}

	_, err = f.Resolve(context.Background(), "summarize")
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("Resolve = %v, want ErrUnknownTool", err)
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error %q suggests a match for an unrelated name", err)
	}
}

func TestInvoke_ResolvesAndRuns(t *testing.T) {
	st := &stubTool{name: "echo", result: map[string]any{"ok": true}}
	f, err := tools.NewFactory([]tools.Descriptor{{
		Name: "echo",
		New:  func(context.Context, *tools.Factory) (tools.Tool, error) { return st, nil },
	}}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	got, err := f.Invoke(context.Background(), "echo", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Invoke = %v", err)
	}
	if st.invoked.Load() != 1 {
		t.Errorf("tool invoked %d times, want 1", st.invoked.Load())
	}
	result, ok := got.(map[string]any)
	if !ok || result["ok"] != true {
		t.Errorf("Invoke result = %v, want the tool's result", got)
	}

	if _, err := f.Invoke(context.Background(), "nosuch", nil); !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("Invoke unknown = %v, want ErrUnknownTool", err)
	}
}

func TestNamesAndDescriptors(t *testing.T) {
	f, err := tools.NewFactory([]tools.Descriptor{
		simpleDescriptor("zeta", nil),
		simpleDescriptor("alpha", nil),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	names := f.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v, want sorted [alpha zeta]", names)
	}

	descs := f.Descriptors()
	if len(descs) != 2 || descs[0].Name != "zeta" || descs[1].Name != "alpha" {
		t.Errorf("Descriptors order = %v, want registration order", descs)
	}

	if _, ok := f.Descriptor("zeta"); !ok {
		t.Error("Descriptor(zeta) not found")
	}
	if _, ok := f.Descriptor("nosuch"); ok {
		t.Error("Descriptor(nosuch) found")
	}
}

func TestInstances_SnapshotAfterResolve(t *testing.T) {
	f, err := tools.NewFactory([]tools.Descriptor{
		simpleDescriptor("echo", nil),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	if got := f.Instances(); len(got) != 0 {
		t.Fatalf("Instances before any resolve = %v, want empty", got)
	}
	if _, err := f.Resolve(context.Background(), "echo"); err != nil {
		t.Fatalf("Resolve = %v", err)
	}

	got := f.Instances()
	if len(got) != 1 || got[0].Name != "echo" {
		t.Fatalf("Instances = %v, want one echo entry", got)
	}
	if got[0].CreatedAt.IsZero() || got[0].LastUsedAt.IsZero() {
		t.Error("instance timestamps not set")
	}
}

// closerTool records whether the factory closed it at shutdown.
type closerTool struct {
	stubTool
	closed atomic.Bool
}

func (t *closerTool) Close() error {
	t.closed.Store(true)
	return nil
}

func TestClose_ClosesConstructedTools(t *testing.T) {
	ct := &closerTool{stubTool: stubTool{name: "conn"}}
	f, err := tools.NewFactory([]tools.Descriptor{
		{
			Name: "conn",
			New:  func(context.Context, *tools.Factory) (tools.Tool, error) { return ct, nil },
		},
		simpleDescriptor("plain", nil),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewFactory = %v", err)
	}

	if _, err := f.Resolve(context.Background(), "conn"); err != nil {
		t.Fatalf("Resolve(conn) = %v", err)
	}
	if _, err := f.Resolve(context.Background(), "plain"); err != nil {
		t.Fatalf("Resolve(plain) = %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
	if !ct.closed.Load() {
		t.Error("closer tool not closed")
	}
	if got := f.InstanceCount(); got != 0 {
		t.Errorf("InstanceCount after Close = %d, want 0", got)
	}
}
