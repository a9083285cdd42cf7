// Package provider defines the Adapter interface for remote model endpoints.
//
// An adapter wraps one provider SDK (e.g., OpenAI, Anthropic, or the
// any-llm-go universal backend) and exposes a uniform request/response
// surface so the relay can orchestrate calls without coupling to any
// specific SDK. Adapters are selected per endpoint through a [Registry]
// keyed by provider name — a tagged-variant lookup, never runtime type
// inspection.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly. Errors returned by Do should be classified into
// the taxonomy in errors.go (see [Transient], [Permanent]) so the relay
// can decide retry and circuit-breaker behavior.
package provider

import (
	"context"
	"net/http"
)

// Message is one turn of a conversation sent to a model endpoint.
type Message struct {
	// Role is the speaker: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the textual body of the message.
	Content string `json:"content"`
}

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int `json:"total_tokens"`
}

// Request carries everything an adapter needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type Request struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message `json:"messages"`

	// System is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field receive it
	// prepended as a "system"-role message.
	System string `json:"system,omitempty"`

	// Model optionally overrides the endpoint's configured model for this
	// request. Empty means use the adapter's default.
	Model string `json:"model,omitempty"`

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is the full result of one model call.
type Response struct {
	// Content is the text of the model's reply.
	Content string `json:"content"`

	// Model is the concrete model that produced the reply, as reported by
	// the backend (may differ from the requested alias).
	Model string `json:"model,omitempty"`

	// Usage contains token accounting for this request/response pair.
	Usage Usage `json:"usage"`
}

// Adapter is the uniform calling surface over one remote endpoint.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Both methods must return promptly once ctx is cancelled.
type Adapter interface {
	// Do sends req to the endpoint and waits for the full response.
	// Failures should be returned as a classified [*Error] whenever the
	// adapter can determine the kind; plain errors are treated as
	// transient by the relay.
	Do(ctx context.Context, req Request) (*Response, error)

	// Check probes the endpoint for availability. A nil return means the
	// endpoint is reachable and accepting requests. Implementations should
	// keep this cheap — it feeds readiness checks and the short-TTL
	// availability cache, not user traffic.
	Check(ctx context.Context) error
}

// Settings carries the per-endpoint configuration an adapter constructor
// needs. The relay layer maps its endpoint config onto this struct so
// adapter packages stay free of config imports.
type Settings struct {
	// Provider is the registry variant name ("openai", "anthropic",
	// "gemini", ...).
	Provider string

	// Model is the default model for the endpoint (e.g., "gpt-4o").
	Model string

	// BaseURL optionally overrides the SDK's default API base.
	BaseURL string

	// APIKey authenticates requests. Adapters for local backends may
	// accept an empty key.
	APIKey string

	// HTTPClient, when non-nil, is used for all SDK traffic. The pool
	// layer supplies a client whose transport encodes the endpoint's
	// connect/read timeout tiers and keep-alive settings.
	HTTPClient *http.Client
}

// EstimateTokens approximates the token count of a message list without
// calling a tokenizer API. ~4 characters per token plus a small
// per-message overhead is a reasonable upper-ish bound for current chat
// models; the estimate is for budgeting, not billing.
func EstimateTokens(system string, messages []Message) int {
	total := 0
	if system != "" {
		total += (len(system)+3)/4 + 4
	}
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		// Per-message overhead (role + formatting tokens).
		total += 4
	}
	return total
}
