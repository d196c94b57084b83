// Package resilience provides ordered failover across interchangeable
// targets, such as the model identifiers of one text-generation backend.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed with
// an error that allowed falling through to the next entry.
var ErrAllFailed = errors.New("all fallbacks failed")

// FallbackConfig decides how a [FallbackGroup] reacts to failures.
type FallbackConfig struct {
	// ShouldFallBack reports whether err allows trying the next entry. When
	// it returns false the group stops and returns err unchanged. A nil
	// ShouldFallBack falls back on every error except context cancellation.
	ShouldFallBack func(err error) bool
}

// fallbackEntry pairs a value with its display name.
type fallbackEntry[T any] struct {
	name  string
	value T
}

// FallbackGroup holds a primary and zero or more fallback values of the same
// type. Entries are tried strictly in registration order, each at most once
// per execution. No health state is kept between executions, so every call
// starts again at the primary.
//
// A FallbackGroup must not be mutated while it is executing.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{
		entries: []fallbackEntry[T]{{name: primaryName, value: primary}},
		cfg:     cfg,
	}
}

// AddFallback appends a fallback. Fallbacks are tried in the order they are
// added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

func (fg *FallbackGroup[T]) shouldFallBack(err error) bool {
	if fg.cfg.ShouldFallBack != nil {
		return fg.cfg.ShouldFallBack(err)
	}
	return !errors.Is(err, context.Canceled)
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, name string, v T) error) error {
	_, _, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, name string, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, name, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning the result and the name of the entry that produced it.
//
// When fn fails with an error that [FallbackConfig.ShouldFallBack] rejects,
// that error is returned unchanged and later entries are not tried. When every
// entry fails with a fall-through error, the last error is returned wrapped in
// [ErrAllFailed]. A cancelled ctx stops the walk between entries.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, name string, v T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, entry.name, lastErr
		}

		result, err := fn(ctx, entry.name, entry.value)
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		if !fg.shouldFallBack(err) {
			return zero, entry.name, err
		}
		if i < len(fg.entries)-1 {
			slog.Warn("fallback entry failed, trying next",
				"entry", entry.name, "next", fg.entries[i+1].name, "err", err)
		}
	}
	return zero, fg.entries[len(fg.entries)-1].name, &AllFailedError{Err: lastErr}
}

// AllFailedError reports exhaustion of a [FallbackGroup]. It matches
// [ErrAllFailed] with errors.Is and unwraps to the last entry's error.
type AllFailedError struct {
	Err error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAllFailed, e.Err)
}

// Is reports whether target is [ErrAllFailed].
func (e *AllFailedError) Is(target error) bool { return target == ErrAllFailed }

func (e *AllFailedError) Unwrap() error { return e.Err }
