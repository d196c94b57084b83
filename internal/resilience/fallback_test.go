package resilience

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

var (
	errTest  = errors.New("test error")
	errFatal = errors.New("fatal error")
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		ShouldFallBack: func(err error) bool { return errors.Is(err, errTest) },
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup("primary", "secondary")

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, _ string, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(called, []string{"primary"}) {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup("primary", "secondary", "tertiary")

	var called []string
	res, name, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, _ string, v string) (string, error) {
		called = append(called, v)
		if v == "primary" {
			return "", errTest
		}
		return "ok from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok from secondary" || name != "secondary" {
		t.Fatalf("res, name = %q, %q", res, name)
	}
	if !reflect.DeepEqual(called, []string{"primary", "secondary"}) {
		t.Fatalf("called = %v", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup("a", "b", "c")

	var called []string
	_, name, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, n string, _ string) (int, error) {
		called = append(called, n)
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("expected last error in chain, got %v", err)
	}
	var af *AllFailedError
	if !errors.As(err, &af) {
		t.Fatal("expected *AllFailedError")
	}
	if name != "c" {
		t.Errorf("name = %q, want c", name)
	}
	if !reflect.DeepEqual(called, []string{"a", "b", "c"}) {
		t.Fatalf("called = %v", called)
	}
}

func TestFallbackGroup_NonFallbackErrorStops(t *testing.T) {
	fg := newGroup("a", "b", "c")

	var called []string
	_, name, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, n string, _ string) (int, error) {
		called = append(called, n)
		if n == "b" {
			return 0, errFatal
		}
		return 0, errTest
	})
	if err != errFatal {
		t.Fatalf("err = %v, want errFatal unchanged", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatal("stopping error must not be reported as exhaustion")
	}
	if name != "b" {
		t.Errorf("name = %q, want b", name)
	}
	if !reflect.DeepEqual(called, []string{"a", "b"}) {
		t.Fatalf("called = %v", called)
	}
}

func TestFallbackGroup_EveryExecutionStartsAtPrimary(t *testing.T) {
	fg := newGroup("a", "b")

	for range 3 {
		var first string
		_ = fg.Execute(context.Background(), func(_ context.Context, n string, _ string) error {
			if first == "" {
				first = n
			}
			return errTest
		})
		if first != "a" {
			t.Fatalf("first tried = %q, want a", first)
		}
	}
}

func TestFallbackGroup_CancelledContextStopsWalk(t *testing.T) {
	fg := newGroup("a", "b")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := fg.Execute(ctx, func(_ context.Context, _ string, _ string) error {
		calls++
		cancel()
		return errTest
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want last attempt error", err)
	}
}

func TestFallbackGroup_DefaultPredicate(t *testing.T) {
	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")

	calls := 0
	err := fg.Execute(context.Background(), func(_ context.Context, _ string, _ string) error {
		calls++
		return context.Canceled
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("calls=%d err=%v; cancellation should stop the walk", calls, err)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := newGroup("x", "y", "z")
	if got := fg.Names(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Fatalf("Names() = %v", got)
	}
	if fg.Len() != 3 {
		t.Fatalf("Len() = %d", fg.Len())
	}
}
