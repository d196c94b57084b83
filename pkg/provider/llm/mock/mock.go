// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify which models the dispatcher tries, in
// which order, and with which prompt, and to feed controlled responses without
// a live backend. Responses can be configured per model; unconfigured models
// fall back to the default Response/Err pair.
//
// Example:
//
//	p := &mock.Provider{
//	    ByModel: map[string]mock.Result{
//	        "gemini-2.0-flash": {Err: &llm.Error{Kind: llm.KindModelUnavailable}},
//	        "gemini-1.5-flash": {Response: &llm.Response{Text: "Next."}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

// Call records a single invocation of Generate.
type Call struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req llm.Request
}

// Result is a canned answer for one model.
type Result struct {
	Response *llm.Response
	Err      error
}

// Provider is a mock implementation of llm.Provider.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// NoCredential makes HasCredential report false.
	NoCredential bool

	// ByModel holds per-model answers. Takes precedence over Response/Err.
	ByModel map[string]Result

	// Response is returned for models without a ByModel entry.
	Response *llm.Response

	// Err is returned for models without a ByModel entry.
	Err error

	// Block, if non-nil, makes Generate wait until the channel is closed or
	// the context is done. A done context returns ctx.Err().
	Block chan struct{}

	// GenerateFunc, if set, replaces all canned behaviour.
	GenerateFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// --- Call records (read after test) ---

	// Calls records every invocation of Generate in order.
	Calls []Call
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// HasCredential implements llm.CredentialReporter.
func (p *Provider) HasCredential() bool { return !p.NoCredential }

// Generate records the call and returns the configured answer.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	fn := p.GenerateFunc
	block := p.Block
	res, ok := p.ByModel[req.Model]
	if !ok {
		res = Result{Response: p.Response, Err: p.Err}
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Response == nil {
		return &llm.Response{Model: req.Model}, nil
	}
	out := *res.Response
	if out.Model == "" {
		out.Model = req.Model
	}
	return &out, nil
}

// CallCount returns the number of Generate invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Models returns the model of every recorded call, in order. Thread-safe.
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req.Model
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var (
	_ llm.Provider           = (*Provider)(nil)
	_ llm.CredentialReporter = (*Provider)(nil)
)
