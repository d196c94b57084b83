// Package dispatch turns committed utterances into persona replies.
//
// A [Dispatcher] builds the prompt for an utterance, walks the configured
// model chain on a single text-generation provider and reduces every outcome
// to exactly one [Completion]. Only [KindModelUnavailable] failures move on to
// the next model; every other failure ends the chain. The dispatcher never
// caches and never retries on its own: repeating a failed utterance is an
// explicit caller action.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/internal/persona"
	"github.com/MrWong99/sloane/internal/resilience"
	"github.com/MrWong99/sloane/pkg/provider/llm"
	"github.com/MrWong99/sloane/pkg/types"
)

// DefaultTimeout bounds a single provider attempt.
const DefaultTimeout = 10 * time.Second

// DefaultModels is the model chain used when none is configured.
var DefaultModels = []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"}

// Config holds the tunables of a [Dispatcher]. All of them can be replaced at
// runtime with [Dispatcher.SetConfig].
type Config struct {
	// Models is the ordered fallback chain. Empty means [DefaultModels].
	Models []string

	// Timeout bounds each attempt. Zero means [DefaultTimeout].
	Timeout time.Duration

	// Temperature is passed through to the provider. Zero means provider
	// default.
	Temperature float64

	// MaxTokens is passed through to the provider. Zero means provider
	// default.
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if len(c.Models) == 0 {
		c.Models = DefaultModels
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.Models = slices.Clone(c.Models)
	return c
}

// Completion is the single outcome of dispatching one utterance. Exactly one
// of Text and Err is meaningful: Err is nil on success.
type Completion struct {
	// Text is the cleaned reply (normal mode) or translation (whisper mode).
	Text string

	// Model is the model that produced Text, or the last model tried.
	Model string

	// Mode is the mode of the dispatched utterance.
	Mode types.Mode

	// Err is the classified failure, nil on success.
	Err *Error
}

// OK reports whether the completion carries a reply.
func (c Completion) OK() bool { return c.Err == nil }

// Dispatcher sends utterances to a text-generation provider.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	provider llm.Provider
	builder  *persona.Builder
	metrics  *observe.Metrics

	mu  sync.RWMutex
	cfg Config
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithBuilder sets the prompt builder. Defaults to [persona.NewBuilder].
func WithBuilder(b *persona.Builder) Option {
	return func(d *Dispatcher) { d.builder = b }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher for provider. provider must not be nil.
func New(provider llm.Provider, cfg Config, opts ...Option) (*Dispatcher, error) {
	if provider == nil {
		return nil, errors.New("dispatch: provider must not be nil")
	}
	d := &Dispatcher{provider: provider, cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(d)
	}
	if d.builder == nil {
		d.builder = persona.NewBuilder()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Config returns a copy of the current configuration.
func (d *Dispatcher) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.cfg
	c.Models = slices.Clone(c.Models)
	return c
}

// SetConfig replaces the configuration. Dispatches already running keep the
// configuration they started with.
func (d *Dispatcher) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Builder returns the prompt builder.
func (d *Dispatcher) Builder() *persona.Builder { return d.builder }

// HasCredential reports whether the provider holds a credential. Providers
// that cannot tell are assumed to have one.
func (d *Dispatcher) HasCredential() bool {
	if cr, ok := d.provider.(llm.CredentialReporter); ok {
		return cr.HasCredential()
	}
	return true
}

// Dispatch sends u to the provider and returns its single [Completion].
func (d *Dispatcher) Dispatch(ctx context.Context, u types.Utterance) Completion {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch.Dispatch",
		trace.WithAttributes(
			attribute.String("sloane.mode", u.Mode.String()),
			attribute.Int("sloane.level", int(u.Level)),
		),
	)
	defer span.End()

	d.metrics.InFlightDispatches.Add(ctx, 1)
	defer d.metrics.InFlightDispatches.Add(ctx, -1)

	c := d.dispatch(ctx, u)
	c.Mode = u.Mode

	result := "ok"
	if c.Err != nil {
		result = c.Err.Kind.String()
		span.SetStatus(codes.Error, c.Err.Error())
		observe.Logger(ctx).Warn("dispatch failed",
			"mode", u.Mode.String(), "kind", c.Err.Kind.String(), "model", c.Err.Model, "err", c.Err.Message)
	} else {
		span.SetAttributes(attribute.String("sloane.model", c.Model))
		observe.Logger(ctx).Debug("dispatch succeeded", "mode", u.Mode.String(), "model", c.Model)
	}
	d.metrics.RecordDispatch(ctx, u.Mode.String(), result, time.Since(start).Seconds())
	return c
}

func (d *Dispatcher) dispatch(ctx context.Context, u types.Utterance) Completion {
	if u.Blank() {
		return Completion{Err: &Error{Kind: KindEmptyInput, Message: "utterance text is empty"}}
	}
	if !d.HasCredential() {
		return Completion{Err: &Error{
			Kind:    KindMissingCredential,
			Message: fmt.Sprintf("no API key configured for %s", d.provider.Name()),
		}}
	}

	cfg := d.Config()
	prompt := d.builder.Build(u)

	group := resilience.NewFallbackGroup(cfg.Models[0], cfg.Models[0], resilience.FallbackConfig{
		ShouldFallBack: func(err error) bool {
			return llm.KindOf(err) == llm.KindModelUnavailable
		},
	})
	for _, m := range cfg.Models[1:] {
		group.AddFallback(m, m)
	}

	var prev string
	resp, model, err := resilience.ExecuteWithResult(ctx, group, func(ctx context.Context, _ string, model string) (*llm.Response, error) {
		if prev != "" {
			d.metrics.RecordFallback(ctx, prev, model)
		}
		prev = model
		return d.attempt(ctx, cfg, model, prompt)
	})
	if err != nil {
		return Completion{Model: model, Err: classify(ctx, model, err)}
	}

	text := persona.CleanResponse(u.Mode, resp.Text)
	if text == "" {
		return Completion{Model: model, Err: &Error{
			Kind:    KindEmptyResponse,
			Model:   model,
			Message: "provider returned no text",
		}}
	}
	return Completion{Text: text, Model: model}
}

// attempt runs one provider call under its own deadline.
func (d *Dispatcher) attempt(ctx context.Context, cfg Config, model, prompt string) (*llm.Response, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.provider.Generate(actx, llm.Request{
		Model:       model,
		Prompt:      prompt,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status := llm.KindOf(err).String()
		// The attempt deadline fired but the caller is still waiting.
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			status = "timeout"
			err = &timeoutError{model: model, after: cfg.Timeout, err: err}
		}
		d.metrics.RecordProviderRequest(ctx, d.provider.Name(), model, status, elapsed)
		d.metrics.RecordProviderError(ctx, d.provider.Name(), status)
		return nil, err
	}
	if resp == nil {
		resp = &llm.Response{Model: model}
	}
	d.metrics.RecordProviderRequest(ctx, d.provider.Name(), model, "ok", elapsed)
	return resp, nil
}

type timeoutError struct {
	model string
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("%s did not answer within %s", e.model, e.after)
}

func (e *timeoutError) Unwrap() error { return e.err }

// classify maps a failed chain to a dispatch [Error].
func classify(ctx context.Context, model string, err error) *Error {
	var te *timeoutError
	if errors.As(err, &te) {
		return &Error{Kind: KindTimeout, Model: te.model, Message: te.Error(), Err: err}
	}
	if ctx.Err() != nil {
		return &Error{Kind: KindCanceled, Model: model, Message: ctx.Err().Error(), Err: err}
	}

	if errors.Is(err, resilience.ErrAllFailed) {
		e := &Error{Kind: KindAllModelsFailed, Model: model, Err: err}
		if le, ok := llm.AsError(err); ok {
			e.Message = messageOf(le)
			if le.Model != "" {
				e.Model = le.Model
			}
		} else {
			e.Message = err.Error()
		}
		return e
	}

	le, ok := llm.AsError(err)
	if !ok {
		var ne net.Error
		if errors.As(err, &ne) {
			return &Error{Kind: KindNetwork, Model: model, Message: err.Error(), Err: err}
		}
		return &Error{Kind: KindProvider, Model: model, Message: err.Error(), Err: err}
	}

	e := &Error{Model: model, Message: messageOf(le), Err: err}
	if le.Model != "" {
		e.Model = le.Model
	}
	switch le.Kind {
	case llm.KindMissingCredential:
		e.Kind = KindMissingCredential
	case llm.KindInvalidCredential:
		e.Kind = KindInvalidCredential
	case llm.KindModelUnavailable:
		e.Kind = KindModelUnavailable
	case llm.KindRateLimited:
		e.Kind = KindRateLimited
		e.RetryAfter = time.Duration(llm.RetryAfterSeconds(le.RetryAfter)) * time.Second
	case llm.KindNetwork:
		e.Kind = KindNetwork
	default:
		e.Kind = KindProvider
	}
	return e
}

func messageOf(le *llm.Error) string {
	if msg := strings.TrimSpace(le.Message); msg != "" {
		return msg
	}
	return le.Error()
}
