package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type nopAdapter struct{ name string }

func (a *nopAdapter) Do(ctx context.Context, req Request) (*Response, error) {
	return &Response{Content: a.name}, nil
}

func (a *nopAdapter) Check(ctx context.Context) error { return nil }

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	r.Register("alpha", func(s Settings) (Adapter, error) {
		return &nopAdapter{name: s.Model}, nil
	})

	a, err := r.Create(Settings{Provider: "alpha", Model: "m1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	resp, err := a.Do(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Content != "m1" {
		t.Errorf("settings not passed to constructor: got %q, want %q", resp.Content, "m1")
	}
}

func TestRegistryCreateUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(Settings{Provider: "nope"})
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Create(unknown) error = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryCreatePropagatesConstructorError(t *testing.T) {
	r := NewRegistry()
	r.Register("bad", func(s Settings) (Adapter, error) {
		return nil, errTest
	})
	_, err := r.Create(Settings{Provider: "bad"})
	if !errors.Is(err, errTest) {
		t.Errorf("Create error = %v, want errTest", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(name, func(s Settings) (Adapter, error) { return &nopAdapter{}, nil })
	}
	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "hello world, this is a prompt"}, // 29 chars -> 8 tokens + 4
	}
	got := EstimateTokens("", msgs)
	if got != 12 {
		t.Errorf("EstimateTokens = %d, want 12", got)
	}

	withSystem := EstimateTokens("be terse", msgs) // 8 chars -> 2 tokens + 4
	if withSystem != got+6 {
		t.Errorf("EstimateTokens with system = %d, want %d", withSystem, got+6)
	}
}
