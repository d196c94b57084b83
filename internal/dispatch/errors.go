package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	// KindEmptyInput means the utterance had no usable text. The provider is
	// never called.
	KindEmptyInput Kind = iota + 1

	// KindMissingCredential means no provider credential is configured.
	KindMissingCredential

	// KindInvalidCredential means the provider rejected the credential.
	KindInvalidCredential

	// KindModelUnavailable means a model could not serve the request. It is
	// only surfaced from single attempts; the chain turns it into
	// [KindAllModelsFailed] once exhausted.
	KindModelUnavailable

	// KindTimeout means an attempt exceeded its deadline.
	KindTimeout

	// KindRateLimited means the provider asked to slow down.
	KindRateLimited

	// KindNetwork means the provider could not be reached.
	KindNetwork

	// KindEmptyResponse means the provider answered with no text.
	KindEmptyResponse

	// KindAllModelsFailed means every model in the chain was unavailable.
	KindAllModelsFailed

	// KindProvider is any other provider rejection.
	KindProvider

	// KindCanceled means the caller abandoned the dispatch.
	KindCanceled
)

// Sentinel errors, one per [Kind]. A [*Error] matches the sentinel of its
// kind with errors.Is.
var (
	ErrEmptyInput        = errors.New("empty input")
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrTimeout           = errors.New("timeout")
	ErrRateLimited       = errors.New("rate limited")
	ErrNetwork           = errors.New("network error")
	ErrEmptyResponse     = errors.New("empty response")
	ErrAllModelsFailed   = errors.New("all models failed")
	ErrProvider          = errors.New("provider error")
	ErrCanceled          = errors.New("canceled")
)

var kindInfo = map[Kind]struct {
	name     string
	sentinel error
}{
	KindEmptyInput:        {"EmptyInput", ErrEmptyInput},
	KindMissingCredential: {"MissingCredential", ErrMissingCredential},
	KindInvalidCredential: {"InvalidCredential", ErrInvalidCredential},
	KindModelUnavailable:  {"ModelUnavailable", ErrModelUnavailable},
	KindTimeout:           {"Timeout", ErrTimeout},
	KindRateLimited:       {"RateLimited", ErrRateLimited},
	KindNetwork:           {"NetworkError", ErrNetwork},
	KindEmptyResponse:     {"EmptyResponse", ErrEmptyResponse},
	KindAllModelsFailed:   {"AllModelsFailed", ErrAllModelsFailed},
	KindProvider:          {"ProviderError", ErrProvider},
	KindCanceled:          {"Canceled", ErrCanceled},
}

// String returns the wire name of k, e.g. "RateLimited".
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, bool) {
	for k, info := range kindInfo {
		if strings.EqualFold(info.name, s) {
			return k, true
		}
	}
	return 0, false
}

// Error is a classified dispatch failure.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Message is the underlying human-readable message. For
	// [KindAllModelsFailed] it is the last model's message.
	Message string

	// Model is the model identifier of the attempt that produced the error.
	Model string

	// RetryAfter is the provider-advised wait, rounded up to whole seconds.
	// Zero when unknown. Only set for [KindRateLimited].
	RetryAfter time.Duration

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dispatch: ")
	b.WriteString(e.Kind.String())
	if e.Model != "" {
		b.WriteString(" (")
		b.WriteString(e.Model)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	info, ok := kindInfo[e.Kind]
	return ok && target == info.sentinel
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterSeconds returns RetryAfter in whole seconds.
func (e *Error) RetryAfterSeconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// Retryable reports whether repeating the same utterance later can succeed
// without a configuration change.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindEmptyInput, KindMissingCredential, KindInvalidCredential:
		return false
	default:
		return true
	}
}

// UserMessage is the text shown in the conversation log in place of a reply.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindEmptyInput:
		return "I didn't catch anything. Say that again."
	case KindMissingCredential, KindInvalidCredential:
		return "I can't reach my brain right now: the AI service isn't configured."
	case KindTimeout:
		return "That took too long. Try again."
	case KindRateLimited:
		if s := e.RetryAfterSeconds(); s > 0 {
			return fmt.Sprintf("Too many requests. Give me %d seconds and try again.", s)
		}
		return "Too many requests. Give me a moment and try again."
	case KindNetwork:
		return "Connection error. Check your network and try again."
	case KindEmptyResponse:
		return "I had nothing to say to that. Try again."
	case KindAllModelsFailed:
		return "Every model is unavailable right now. Try again shortly."
	case KindCanceled:
		return "Request canceled."
	default:
		return "Something went wrong on my side. Try again."
	}
}

// Suggestion is a short operator- or user-facing hint for fixing the failure.
// Empty when there is nothing useful to suggest.
func (e *Error) Suggestion() string {
	switch e.Kind {
	case KindMissingCredential:
		return "Set GEMINI_API_KEY (or the configured provider's key) on the server."
	case KindInvalidCredential:
		return "Check that the configured API key is valid and has access to the model."
	case KindRateLimited:
		return "Wait for the retry window, or use a key with a higher quota."
	case KindAllModelsFailed:
		return "Check dispatch.models in the configuration against the provider's available models."
	case KindTimeout:
		return "Retry, or raise dispatch.timeout if the provider is consistently slow."
	case KindNetwork:
		return "Check connectivity between the server and the provider."
	default:
		return ""
	}
}
