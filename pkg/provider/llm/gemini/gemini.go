// Package gemini provides an LLM provider backed by the Google Gen AI SDK
// (google.golang.org/genai) against the Gemini Developer API.
//
// The provider never reads credentials from the environment on its own: an
// empty API key yields a provider whose every call fails with
// [llm.KindMissingCredential].
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

const providerName = "gemini"

// retryInfoType is the protobuf type URL of google.rpc.RetryInfo as it appears
// in the "@type" key of an error detail.
const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// Provider implements llm.Provider using the Gemini API.
type Provider struct {
	apiKey string
	cfg    config

	once    sync.Once
	client  *genai.Client
	initErr error
}

type config struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	timeout    time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the Gemini API endpoint. Used by tests and proxies.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithAPIVersion selects the API version path segment (default "v1beta").
func WithAPIVersion(v string) Option {
	return func(c *config) {
		c.apiVersion = v
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTimeout sets a per-request HTTP timeout. Callers usually bound requests
// through the context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Gemini provider. apiKey may be empty; see the package
// documentation. The SDK client is created lazily on first use.
func New(apiKey string, opts ...Option) *Provider {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	return &Provider{apiKey: strings.TrimSpace(apiKey), cfg: cfg}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return providerName }

// HasCredential implements llm.CredentialReporter.
func (p *Provider) HasCredential() bool { return p.apiKey != "" }

func (p *Provider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: p.cfg.httpClient,
			HTTPOptions: genai.HTTPOptions{
				BaseURL:    p.cfg.baseURL,
				APIVersion: p.cfg.apiVersion,
			},
		}
		if p.cfg.timeout > 0 {
			t := p.cfg.timeout
			cc.HTTPOptions.Timeout = &t
		}
		p.client, p.initErr = genai.NewClient(ctx, cc)
	})
	return p.client, p.initErr
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if !p.HasCredential() {
		return nil, llm.NewMissingCredential(providerName)
	}
	if req.Model == "" {
		return nil, &llm.Error{Kind: llm.KindBadRequest, Provider: providerName, Message: "model must not be empty"}
	}

	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindUnknown, Provider: providerName, Model: req.Model, Message: "create client", Err: err}
	}

	gcfg := &genai.GenerateContentConfig{}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		gcfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), gcfg)
	if err != nil {
		return nil, classify(req.Model, err)
	}

	out := &llm.Response{Text: resp.Text(), Model: req.Model}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// classify converts an SDK error into an *llm.Error. Context errors are
// returned wrapped but unclassified so callers can tell a local timeout from
// a backend answer.
func classify(model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("gemini: generate %s: %w", model, err)
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return &llm.Error{Kind: llm.KindNetwork, Provider: providerName, Model: model, Message: err.Error(), Err: err}
	}

	le := &llm.Error{
		Kind:       kindFor(apiErr),
		Provider:   providerName,
		Model:      model,
		Message:    apiErr.Message,
		StatusCode: apiErr.Code,
		Err:        err,
	}
	if le.Kind == llm.KindRateLimited {
		le.RetryAfter = retryDelay(apiErr.Details)
	}
	return le
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// kindFor maps the canonical status first and falls back to the HTTP code.
func kindFor(e genai.APIError) llm.Kind {
	switch e.Status {
	case "RESOURCE_EXHAUSTED":
		return llm.KindRateLimited
	case "NOT_FOUND", "UNAVAILABLE":
		return llm.KindModelUnavailable
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return llm.KindInvalidCredential
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		if strings.Contains(strings.ToLower(e.Message), "api key") {
			return llm.KindInvalidCredential
		}
		return llm.KindBadRequest
	}
	return llm.KindForStatus(e.Code)
}

// retryDelay finds a google.rpc.RetryInfo detail and parses its retryDelay.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		s, _ := d["retryDelay"].(string)
		if dur, ok := llm.ParseRetryDelay(s); ok {
			return dur
		}
	}
	return 0
}

var (
	_ llm.Provider           = (*Provider)(nil)
	_ llm.CredentialReporter = (*Provider)(nil)
)
