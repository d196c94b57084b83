package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/pkg/provider/llm"
	"github.com/MrWong99/sloane/pkg/provider/llm/mock"
	"github.com/MrWong99/sloane/pkg/types"
)

// stubDispatcher returns queued completions and records utterances.
type stubDispatcher struct {
	mu      sync.Mutex
	results []dispatch.Completion
	calls   []types.Utterance
	gate    chan struct{}
	entered chan struct{}
}

func (d *stubDispatcher) Dispatch(ctx context.Context, u types.Utterance) dispatch.Completion {
	d.mu.Lock()
	d.calls = append(d.calls, u)
	gate, entered := d.gate, d.entered
	var c dispatch.Completion
	if len(d.results) > 0 {
		c = d.results[0]
		d.results = d.results[1:]
	}
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	c.Mode = u.Mode
	return c
}

func (d *stubDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func normal(text string) types.Utterance {
	return types.Utterance{Text: text, Mode: types.ModeNormal}
}

func TestSubmit_NormalAppendsUserAndAssistant(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{results: []dispatch.Completion{{Text: "Who pays?"}}}
	s := New(d, WithLevel(2))

	c, err := s.Submit(context.Background(), normal("We sell shovels."))
	if err != nil || !c.OK() {
		t.Fatalf("Submit = %+v, %v", c, err)
	}

	log := s.Log()
	if len(log) != 2 {
		t.Fatalf("log = %+v", log)
	}
	if log[0].Role != types.RoleUser || log[0].Text != "We sell shovels." {
		t.Errorf("user entry = %+v", log[0])
	}
	if log[1].Role != types.RoleAssistant || log[1].Text != "Who pays?" || log[1].Failed {
		t.Errorf("assistant entry = %+v", log[1])
	}
	if d.calls[0].Level != 2 {
		t.Errorf("dispatched level = %d, want session level 2", d.calls[0].Level)
	}
}

func TestSubmit_EmptyUtteranceNeverDispatches(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	s := New(d)

	for _, text := range []string{"", "   ", "\n"} {
		if _, err := s.Submit(context.Background(), normal(text)); !errors.Is(err, ErrEmptyUtterance) {
			t.Errorf("Submit(%q) err = %v", text, err)
		}
	}
	if d.callCount() != 0 || len(s.Log()) != 0 {
		t.Errorf("calls = %d, log = %v", d.callCount(), s.Log())
	}
}

func TestSubmit_InFlightGatePerMode(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	s := New(d)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), normal("first"))
		done <- err
	}()
	<-d.entered

	if !s.InFlight(types.ModeNormal) {
		t.Error("InFlight(normal) = false while dispatching")
	}
	if _, err := s.Submit(context.Background(), normal("second")); !errors.Is(err, ErrDispatchInFlight) {
		t.Errorf("second normal Submit err = %v, want ErrDispatchInFlight", err)
	}

	// The other mode has its own gate.
	whisperDone := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), types.Utterance{Text: "생각", Mode: types.ModeWhisper})
		whisperDone <- err
	}()
	<-d.entered

	close(d.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := <-whisperDone; err != nil {
		t.Fatalf("whisper Submit: %v", err)
	}
	if d.callCount() != 2 {
		t.Errorf("dispatches = %d, want 2", d.callCount())
	}
	// Only the first normal utterance reached the log.
	if log := s.Log(); len(log) != 2 || log[0].Text != "first" {
		t.Errorf("log = %+v", log)
	}
}

func TestSubmit_FailureIsVisibleAndNotified(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{results: []dispatch.Completion{{Err: &dispatch.Error{
		Kind:       dispatch.KindRateLimited,
		RetryAfter: 18 * time.Second,
	}}}}
	var notices []Notice
	s := New(d, WithNotify(func(n Notice) { notices = append(notices, n) }))

	c, err := s.Submit(context.Background(), normal("pitch"))
	if err != nil {
		t.Fatalf("Submit err = %v", err)
	}
	if c.OK() {
		t.Fatal("expected failed completion")
	}

	log := s.Log()
	if len(log) != 2 || !log[1].Failed || log[1].Role != types.RoleAssistant {
		t.Fatalf("log = %+v", log)
	}
	if log[1].Text != c.Err.UserMessage() {
		t.Errorf("failure text = %q", log[1].Text)
	}
	if len(notices) != 1 || notices[0].Kind != dispatch.KindRateLimited || notices[0].RetryAfter != 18*time.Second {
		t.Errorf("notices = %+v", notices)
	}
	if !notices[0].Retryable || notices[0].Suggestion == "" {
		t.Errorf("notice = %+v", notices[0])
	}
}

func TestSubmit_WhisperOnlySetsHint(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{results: []dispatch.Completion{
		{Text: "We are scaling fast."},
		{Err: &dispatch.Error{Kind: dispatch.KindNetwork}},
	}}
	s := New(d)
	w := types.Utterance{Text: "빠르게 성장 중", Mode: types.ModeWhisper}

	if _, err := s.Submit(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if s.WhisperHint() != "We are scaling fast." {
		t.Errorf("hint = %q", s.WhisperHint())
	}
	if len(s.Log()) != 0 {
		t.Errorf("whisper reached the log: %+v", s.Log())
	}

	if _, err := s.Submit(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if s.WhisperHint() == "" || s.WhisperHint() == "We are scaling fast." {
		t.Errorf("hint after failure = %q", s.WhisperHint())
	}
	if len(s.Log()) != 0 {
		t.Error("whisper failure reached the log")
	}

	s.ClearWhisper()
	if s.WhisperHint() != "" {
		t.Error("ClearWhisper did not clear")
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{results: []dispatch.Completion{
		{Err: &dispatch.Error{Kind: dispatch.KindTimeout}},
		{Text: "Better."},
	}}
	s := New(d)

	if _, err := s.Retry(context.Background(), types.ModeNormal); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("Retry before failure = %v", err)
	}

	if _, err := s.Submit(context.Background(), normal("slow pitch")); err != nil {
		t.Fatal(err)
	}
	c, err := s.Retry(context.Background(), types.ModeNormal)
	if err != nil || c.Text != "Better." {
		t.Fatalf("Retry = %+v, %v", c, err)
	}
	if d.calls[1].Text != "slow pitch" {
		t.Errorf("retried %q", d.calls[1].Text)
	}

	// user, failure, reply: the user entry is not repeated.
	log := s.Log()
	if len(log) != 3 || log[2].Text != "Better." || !log[1].Failed {
		t.Errorf("log = %+v", log)
	}
	if _, err := s.Retry(context.Background(), types.ModeNormal); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("Retry after success = %v", err)
	}
}

func TestSetLevel(t *testing.T) {
	t.Parallel()
	s := New(&stubDispatcher{})

	for in, want := range map[int]types.Level{3: 3, 4: 4, 0: 1, 9: 1, -2: 1} {
		if got := s.SetLevel(in); got != want || s.Level() != want {
			t.Errorf("SetLevel(%d) = %d, Level() = %d, want %d", in, got, s.Level(), want)
		}
	}
}

func TestLog_ReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New(&stubDispatcher{results: []dispatch.Completion{{Text: "ok"}}})
	if _, err := s.Submit(context.Background(), normal("hi")); err != nil {
		t.Fatal(err)
	}
	log := s.Log()
	log[0].Text = "mutated"
	if s.Log()[0].Text != "hi" {
		t.Error("Log exposed internal slice")
	}
}

func TestSession_WithRealDispatcher(t *testing.T) {
	t.Parallel()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	p := &mock.Provider{NoCredential: true}
	d, err := dispatch.New(p, dispatch.Config{}, dispatch.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	s := New(d)

	c, err := s.Submit(context.Background(), normal("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Err == nil || c.Err.Kind != dispatch.KindMissingCredential {
		t.Fatalf("completion = %+v", c)
	}
	if p.CallCount() != 0 {
		t.Error("provider called without credential")
	}

	p.NoCredential = false
	p.Response = &llm.Response{Text: "Go on."}
	c, err = s.Retry(context.Background(), types.ModeNormal)
	if err != nil || c.Text != "Go on." {
		t.Fatalf("Retry = %+v, %v", c, err)
	}
}
