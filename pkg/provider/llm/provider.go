// Package llm defines the Provider interface for text-generation backends.
//
// A provider wraps a remote model API (Google Gemini, OpenAI, or any backend
// reachable through any-llm-go) and exposes a single-shot generation call. The
// model identifier travels with each request so that a caller can walk an
// ordered list of models against the same provider.
//
// Implementors must be safe for concurrent use and must report failures as
// [*Error] values so callers can branch on [Kind] without knowing the SDK.
package llm

import "context"

// Usage holds token accounting information returned by the backend. Providers
// that do not report usage leave it zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request carries everything the provider needs to produce one response.
type Request struct {
	// Model is the provider-specific model identifier, for example
	// "gemini-2.0-flash". Must not be empty.
	Model string

	// Prompt is the complete prompt text. Persona, directive and user input
	// are already folded in by the caller.
	Prompt string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Response is the result of a successful [Provider.Generate] call.
type Response struct {
	// Text is the generated text. It may be empty; callers decide whether an
	// empty reply is an error.
	Text string

	// Model is the model that produced Text.
	Model string

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Generate sends req to the backend and waits for the full response.
	//
	// Failures are returned as [*Error] whenever the provider can classify
	// them. Context cancellation and deadline errors are returned wrapped so
	// that errors.Is(err, context.DeadlineExceeded) still holds.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns a short identifier for logs and metrics ("gemini", "openai").
	Name() string
}

// CredentialReporter is implemented by providers that can tell, without a
// network round trip, whether they hold a credential at all.
type CredentialReporter interface {
	HasCredential() bool
}
