package llm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindUnknown is any failure the provider could not classify.
	KindUnknown Kind = iota

	// KindMissingCredential means no API key was configured.
	KindMissingCredential

	// KindInvalidCredential means the backend rejected the configured key.
	KindInvalidCredential

	// KindModelUnavailable means the model identifier is unknown, retired, or
	// temporarily not served. Callers may retry with another model.
	KindModelUnavailable

	// KindRateLimited means the backend asked the caller to slow down.
	KindRateLimited

	// KindNetwork means the request never produced a backend answer.
	KindNetwork

	// KindBadRequest means the backend rejected the request content.
	KindBadRequest
)

// String returns a stable lower-case name for k, used as a metric label.
func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Error is the classified failure returned by providers.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Provider is the provider name that produced the error.
	Provider string

	// Model is the model identifier of the failed request, if known.
	Model string

	// Message is the backend's human-readable message.
	Message string

	// StatusCode is the HTTP status of the backend answer, or zero.
	StatusCode int

	// RetryAfter is the backend-advised delay before retrying. Only set for
	// [KindRateLimited], and only when the backend provided one.
	RetryAfter time.Duration

	// Err is the underlying SDK error.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString(" (")
		b.WriteString(e.Model)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts an [*Error] from err's chain.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// KindOf returns the [Kind] of the first [*Error] in err's chain, or
// [KindUnknown].
func KindOf(err error) Kind {
	if le, ok := AsError(err); ok {
		return le.Kind
	}
	return KindUnknown
}

// KindForStatus maps an HTTP status code to a [Kind].
//
// 404 is treated as model-unavailable because every backend in use answers
// unknown model identifiers with it.
func KindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindInvalidCredential
	case status == 404:
		return KindModelUnavailable
	case status == 429:
		return KindRateLimited
	case status == 400 || status == 413 || status == 422:
		return KindBadRequest
	case status == 502 || status == 503:
		return KindModelUnavailable
	default:
		return KindUnknown
	}
}

// ParseRetryDelay parses a retry hint in either protobuf duration form
// ("17s", "17.3s") or HTTP Retry-After seconds ("17"). It returns false when s
// carries no usable delay. HTTP-date Retry-After values are not supported.
func ParseRetryDelay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// RetryAfterSeconds rounds d up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// NewMissingCredential builds the error a provider returns when it holds no key.
func NewMissingCredential(provider string) *Error {
	return &Error{
		Kind:     KindMissingCredential,
		Provider: provider,
		Message:  fmt.Sprintf("no API key configured for %s", provider),
	}
}
