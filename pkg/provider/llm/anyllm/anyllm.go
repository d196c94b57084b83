// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", anyllmlib.WithAPIKey("sk-ant-..."))
//	resp, err := p.Generate(ctx, llm.Request{Model: "claude-3-5-haiku-latest", Prompt: prompt})
package anyllm

import (
	"context"
	"errors"
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
	oai "github.com/openai/openai-go"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
}

// New creates a Provider for the named backend.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Backends that need a key and find none in opts or in
// their environment variable fail here.
func New(providerName string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: strings.ToLower(providerName)}, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
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

// Name implements llm.Provider.
func (p *Provider) Name() string { return "anyllm/" + p.name }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Model == "" {
		return nil, &llm.Error{Kind: llm.KindBadRequest, Provider: p.Name(), Message: "model must not be empty"}
	}

	resp, err := p.backend.Completion(ctx, buildParams(req))
	if err != nil {
		return nil, classify(p.Name(), req.Model, err)
	}

	out := &llm.Response{Model: req.Model}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.ContentString()
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// buildParams converts a Request into anyllm CompletionParams.
func buildParams(req llm.Request) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: req.Model,
		Messages: []anyllmlib.Message{
			{Role: "user", Content: req.Prompt},
		},
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

// classify maps a backend error onto llm kinds. The OpenAI-compatible
// backends surface the openai-go error type; the others only expose text.
func classify(provider, model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("anyllm: completion %s: %w", model, err)
	}

	le := &llm.Error{Provider: provider, Model: model, Message: err.Error(), Err: err}

	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		le.StatusCode = apiErr.StatusCode
		le.Kind = llm.KindForStatus(apiErr.StatusCode)
		if apiErr.Message != "" {
			le.Message = apiErr.Message
		}
		if le.Kind == llm.KindRateLimited && apiErr.Response != nil {
			le.RetryAfter, _ = llm.ParseRetryDelay(apiErr.Response.Header.Get("Retry-After"))
		}
		return le
	}

	le.Kind = kindFromText(err.Error())
	return le
}

// kindFromText classifies an error by its message.
func kindFromText(msg string) llm.Kind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "429", "rate limit", "rate_limit", "resource_exhausted", "too many requests"):
		return llm.KindRateLimited
	case containsAny(lower, "model_not_found", "model not found", "not_found_error", "404", "overloaded", "503"):
		return llm.KindModelUnavailable
	case containsAny(lower, "401", "403", "unauthorized", "invalid api key", "invalid_api_key", "authentication"):
		return llm.KindInvalidCredential
	case containsAny(lower, "connection refused", "no such host", "dial tcp", "connection reset", "eof"):
		return llm.KindNetwork
	default:
		return llm.KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ llm.Provider = (*Provider)(nil)
