// Package anyllm provides a universal chat adapter backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// The registry key doubles as the backend name, so one constructor serves
// every backend the library supports:
//
//	a, err := anyllm.New("ollama", "llama3")
//	a, err := anyllm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voletro/cordon/pkg/provider"
)

// Adapter implements provider.Adapter by wrapping github.com/mozilla-ai/any-llm-go.
type Adapter struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Adapter backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (e.g., OPENAI_API_KEY).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Adapter, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Adapter{backend: backend, model: model}, nil
}

// FromSettings builds an Adapter from per-endpoint settings, using
// s.Provider as the backend name. Registering it under several names wires
// all remaining any-llm-go backends through a single constructor.
//
// any-llm-go manages its own HTTP transport, so Settings.HTTPClient is not
// used; per-call deadlines still apply through the request context.
func FromSettings(s provider.Settings) (provider.Adapter, error) {
	opts := make([]anyllmlib.Option, 0, 2)
	if s.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(s.APIKey))
	}
	if s.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(s.BaseURL))
	}
	return New(s.Provider, s.Model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Do implements provider.Adapter.
func (a *Adapter) Do(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params := a.buildParams(req)

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &provider.Response{
		Content: resp.Choices[0].Message.ContentString(),
		// any-llm-go does not echo the serving model; report the requested one.
		Model: params.Model,
	}
	if resp.Usage != nil {
		result.Usage = provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Check implements provider.Adapter. any-llm-go exposes no metadata
// endpoint, so a one-token completion is the only probe that works
// uniformly across its backends.
func (a *Adapter) Check(ctx context.Context) error {
	one := 1
	_, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:     a.model,
		Messages:  []anyllmlib.Message{{Role: "user", Content: "ping"}},
		MaxTokens: &one,
	})
	if err != nil {
		return fmt.Errorf("anyllm: check: %w", err)
	}
	return nil
}

// buildParams converts a provider.Request into anyllm CompletionParams.
func (a *Adapter) buildParams(req provider.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params
}

// Ensure Adapter satisfies the provider contract at compile time.
var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.Constructor = FromSettings
)
