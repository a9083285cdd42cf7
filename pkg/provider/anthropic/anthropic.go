// Package anthropic provides a chat adapter backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ant "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/voletro/cordon/pkg/provider"
)

// defaultMaxTokens is used when a request does not cap completion tokens.
// The Messages API rejects requests without max_tokens.
const defaultMaxTokens = 1024

// Adapter implements provider.Adapter using the Anthropic API.
type Adapter struct {
	client ant.Client
	model  string
}

// config holds optional configuration for the adapter.
type config struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option is a functional option for Adapter.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithHTTPClient routes all SDK traffic through the given client. It takes
// precedence over WithTimeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Anthropic chat Adapter.
func New(apiKey string, model string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	} else if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := ant.NewClient(reqOpts...)
	return &Adapter{client: client, model: model}, nil
}

// FromSettings builds an Adapter from per-endpoint settings. It is the
// constructor registered under the "anthropic" provider name.
func FromSettings(s provider.Settings) (provider.Adapter, error) {
	opts := make([]Option, 0, 2)
	if s.BaseURL != "" {
		opts = append(opts, WithBaseURL(s.BaseURL))
	}
	if s.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(s.HTTPClient))
	}
	return New(s.APIKey, s.Model, opts...)
}

// Do implements provider.Adapter.
func (a *Adapter) Do(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapErr("messages", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic: empty content in response")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(ant.TextBlock); ok {
			content.WriteString(tb.Text)
		}
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return &provider.Response{
		Content: content.String(),
		Model:   string(resp.Model),
		Usage: provider.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

// Check implements provider.Adapter. Listing models is the cheapest
// authenticated call the API offers; it never consumes tokens.
func (a *Adapter) Check(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx, ant.ModelListParams{}); err != nil {
		return wrapErr("list models", err)
	}
	return nil
}

// buildParams converts a provider.Request into Anthropic SDK params.
func (a *Adapter) buildParams(req provider.Request) (ant.MessageNewParams, error) {
	var system []ant.TextBlockParam
	if req.System != "" {
		system = append(system, ant.TextBlockParam{Text: req.System})
	}

	var messages []ant.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			// The Messages API has no system role; system text rides in the
			// dedicated top-level field.
			system = append(system, ant.TextBlockParam{Text: m.Content})

		case "user":
			messages = append(messages, ant.NewUserMessage(ant.NewTextBlock(m.Content)))

		case "assistant":
			messages = append(messages, ant.MessageParam{
				Role:    ant.MessageParamRoleAssistant,
				Content: []ant.ContentBlockParamUnion{ant.NewTextBlock(m.Content)},
			})

		default:
			return ant.MessageNewParams{}, provider.Permanent(0,
				fmt.Errorf("anthropic: unknown message role %q", m.Role))
		}
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := ant.MessageNewParams{
		Model:     ant.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != 0 {
		params.Temperature = ant.Float(req.Temperature)
	}

	return params, nil
}

// wrapErr classifies an SDK failure. Non-2xx responses surface as *ant.Error
// and map onto the provider taxonomy by status; transport failures stay
// unclassified, which the relay treats as transient.
func wrapErr(op string, err error) error {
	var apierr *ant.Error
	if errors.As(err, &apierr) {
		return provider.FromStatus(apierr.StatusCode, fmt.Errorf("anthropic: %s: %w", op, err))
	}
	return fmt.Errorf("anthropic: %s: %w", op, err)
}

// Ensure Adapter satisfies the provider contract at compile time.
var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.Constructor = FromSettings
)
