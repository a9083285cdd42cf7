// Package openai provides a chat adapter backed by the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voletro/cordon/pkg/provider"
)

// Adapter implements provider.Adapter using the OpenAI API.
type Adapter struct {
	client oai.Client
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

// WithBaseURL overrides the default OpenAI API base URL.
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

// New constructs a new OpenAI chat Adapter.
func New(apiKey string, model string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
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

	client := oai.NewClient(reqOpts...)
	return &Adapter{client: client, model: model}, nil
}

// FromSettings builds an Adapter from per-endpoint settings. It is the
// constructor registered under the "openai" provider name.
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

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapErr("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	return &provider.Response{
		Content: choice.Message.Content,
		Model:   string(resp.Model),
		Usage: provider.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Check implements provider.Adapter. Listing models is the cheapest
// authenticated call the API offers; it never consumes tokens.
func (a *Adapter) Check(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx); err != nil {
		return wrapErr("list models", err)
	}
	return nil
}

// buildParams converts a provider.Request into OpenAI SDK params.
func (a *Adapter) buildParams(req provider.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	return params, nil
}

// convertMessage converts a provider.Message to an OpenAI SDK message param.
func convertMessage(m provider.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		return oai.UserMessage(m.Content), nil

	case "assistant":
		return oai.AssistantMessage(m.Content), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, provider.Permanent(0,
			fmt.Errorf("openai: unknown message role %q", m.Role))
	}
}

// wrapErr classifies an SDK failure. Non-2xx responses surface as *oai.Error
// and map onto the provider taxonomy by status; transport failures stay
// unclassified, which the relay treats as transient.
func wrapErr(op string, err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return provider.FromStatus(apierr.StatusCode, fmt.Errorf("openai: %s: %w", op, err))
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}

// Ensure Adapter satisfies the provider contract at compile time.
var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.Constructor = FromSettings
)
