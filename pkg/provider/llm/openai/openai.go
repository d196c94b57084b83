// Package openai provides an LLM provider backed by the OpenAI Chat Completions
// API. Any OpenAI-compatible endpoint can be targeted through [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

const providerName = "openai"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	hasKey bool
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient sets the HTTP client. It takes precedence over [WithTimeout].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs an OpenAI provider. An empty apiKey is accepted; every call
// then fails with [llm.KindMissingCredential].
func New(apiKey string, opts ...Option) *Provider {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	apiKey = strings.TrimSpace(apiKey)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Model fallback is the dispatcher's job; hidden SDK retries would
		// stretch a single attempt past its deadline.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), hasKey: apiKey != ""}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return providerName }

// HasCredential implements llm.CredentialReporter.
func (p *Provider) HasCredential() bool { return p.hasKey }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.hasKey {
		return nil, llm.NewMissingCredential(providerName)
	}
	if req.Model == "" {
		return nil, &llm.Error{Kind: llm.KindBadRequest, Provider: providerName, Message: "model must not be empty"}
	}

	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, classify(req.Model, err)
	}

	out := &llm.Response{
		Model: req.Model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

// buildParams converts a Request into OpenAI SDK params. The whole prompt is
// sent as a single user message.
func buildParams(req llm.Request) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(req.Prompt)},
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

func classify(model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai: chat completion %s: %w", model, err)
	}

	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return &llm.Error{Kind: llm.KindNetwork, Provider: providerName, Model: model, Message: err.Error(), Err: err}
	}

	le := &llm.Error{
		Kind:       llm.KindForStatus(apiErr.StatusCode),
		Provider:   providerName,
		Model:      model,
		Message:    apiErr.Message,
		StatusCode: apiErr.StatusCode,
		Err:        err,
	}
	if apiErr.Code == "model_not_found" {
		le.Kind = llm.KindModelUnavailable
	}
	if le.Kind == llm.KindRateLimited && apiErr.Response != nil {
		if d, ok := llm.ParseRetryDelay(apiErr.Response.Header.Get("Retry-After")); ok {
			le.RetryAfter = d
		}
	}
	return le
}

var (
	_ llm.Provider           = (*Provider)(nil)
	_ llm.CredentialReporter = (*Provider)(nil)
)
