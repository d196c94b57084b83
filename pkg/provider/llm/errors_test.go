package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"17s", 17 * time.Second, true},
		{"17.3s", 17300 * time.Millisecond, true},
		{"0.5s", 500 * time.Millisecond, true},
		{"3", 3 * time.Second, true},
		{" 12 ", 12 * time.Second, true},
		{"", 0, false},
		{"-1", 0, false},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseRetryDelay(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("ParseRetryDelay(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestRetryAfterSeconds_RoundsUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{17 * time.Second, 17},
		{17300 * time.Millisecond, 18},
	}
	for _, tc := range tests {
		if got := RetryAfterSeconds(tc.in); got != tc.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	tests := map[int]Kind{
		400: KindBadRequest,
		401: KindInvalidCredential,
		403: KindInvalidCredential,
		404: KindModelUnavailable,
		429: KindRateLimited,
		500: KindUnknown,
		503: KindModelUnavailable,
	}
	for status, want := range tests {
		if got := KindForStatus(status); got != want {
			t.Errorf("KindForStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestError_UnwrapAndKindOf(t *testing.T) {
	t.Parallel()

	cause := errors.New("sdk failure")
	le := &Error{Kind: KindRateLimited, Provider: "gemini", Model: "gemini-2.0-flash", Message: "quota", Err: cause}
	wrapped := fmt.Errorf("outer: %w", le)

	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the SDK cause")
	}
	if KindOf(wrapped) != KindRateLimited {
		t.Errorf("KindOf = %v", KindOf(wrapped))
	}
	if KindOf(cause) != KindUnknown {
		t.Errorf("KindOf(plain) = %v", KindOf(cause))
	}
	msg := le.Error()
	for _, want := range []string{"gemini", "gemini-2.0-flash", "rate_limited", "quota"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestNewMissingCredential(t *testing.T) {
	t.Parallel()

	err := NewMissingCredential("openai")
	if err.Kind != KindMissingCredential {
		t.Errorf("Kind = %v", err.Kind)
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("Error() = %q", err.Error())
	}
}
