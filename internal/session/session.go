// Package session holds the state of one practice conversation.
//
// A [Session] owns the conversation log, the current difficulty level, one
// in-flight gate per [types.Mode] and the last failed utterance per mode. It
// is the only place where committed utterances meet the dispatcher, so the
// rule that a mode never has two dispatches pending is enforced here.
//
// Nothing is persisted: the log lives as long as the Session.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/pkg/types"
)

var (
	// ErrEmptyUtterance is returned by [Session.Submit] for blank text. No
	// dispatch happens.
	ErrEmptyUtterance = errors.New("session: empty utterance")

	// ErrDispatchInFlight is returned when a dispatch for the same mode is
	// still pending. The utterance is dropped.
	ErrDispatchInFlight = errors.New("session: dispatch already in flight")

	// ErrNothingToRetry is returned by [Session.Retry] when the mode's last
	// dispatch did not fail.
	ErrNothingToRetry = errors.New("session: nothing to retry")
)

// Dispatcher turns one utterance into one completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, u types.Utterance) dispatch.Completion
}

// Notice is the transient notification raised for a failed dispatch, in
// addition to the visible log entry.
type Notice struct {
	// Mode is the mode of the failed utterance.
	Mode types.Mode

	// Kind is the dispatch failure class.
	Kind dispatch.Kind

	// Message is the user-facing text.
	Message string

	// Suggestion is an optional hint for fixing the failure.
	Suggestion string

	// RetryAfter is the provider-advised wait, zero when unknown.
	RetryAfter time.Duration

	// Retryable reports whether [Session.Retry] is worth offering.
	Retryable bool
}

// Option is a functional option for [New].
type Option func(*Session)

// WithNotify sets the failure notification callback. It is called without
// the session lock held.
func WithNotify(fn func(Notice)) Option {
	return func(s *Session) { s.notify = fn }
}

// WithLevel sets the initial level. Out-of-range values become level 1.
func WithLevel(n int) Option {
	return func(s *Session) { s.level = types.NormalizeLevel(n) }
}

// WithClock replaces time.Now for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one practice conversation. All methods are safe for concurrent
// use.
type Session struct {
	id         string
	dispatcher Dispatcher
	notify     func(Notice)
	now        func() time.Time
	log        *slog.Logger

	mu       sync.Mutex
	level    types.Level
	entries  []types.LogEntry
	inFlight map[types.Mode]bool
	failed   map[types.Mode]types.Utterance
	hint     string
}

// New creates a Session that dispatches through d. d must not be nil.
func New(d Dispatcher, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		dispatcher: d,
		now:        time.Now,
		level:      types.MinLevel,
		inFlight:   make(map[types.Mode]bool, 2),
		failed:     make(map[types.Mode]types.Utterance, 2),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = slog.With("session_id", s.id)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Level returns the current difficulty.
func (s *Session) Level() types.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetLevel stores the normalised level and returns it.
func (s *Session) SetLevel(n int) types.Level {
	l := types.NormalizeLevel(n)
	s.mu.Lock()
	s.level = l
	s.mu.Unlock()
	s.log.Debug("level changed", "level", int(l))
	return l
}

// Log returns a copy of the conversation log in order.
func (s *Session) Log() []types.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// WhisperHint returns the latest whisper translation or failure message.
func (s *Session) WhisperHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hint
}

// ClearWhisper drops the whisper hint, as when the whisper panel closes.
func (s *Session) ClearWhisper() {
	s.mu.Lock()
	s.hint = ""
	s.mu.Unlock()
}

// InFlight reports whether a dispatch for mode is pending.
func (s *Session) InFlight(mode types.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[mode]
}

// Submit dispatches u and records the outcome.
//
// Normal-mode utterances append a user entry before dispatching and an
// assistant entry afterwards: the reply, or a visible failure message. Whisper
// utterances never touch the log; their outcome becomes the whisper hint. A
// failed dispatch also raises a [Notice].
//
// The returned error is only set when nothing was dispatched. Dispatch
// failures are reported in the completion.
func (s *Session) Submit(ctx context.Context, u types.Utterance) (dispatch.Completion, error) {
	if u.Blank() {
		return dispatch.Completion{}, ErrEmptyUtterance
	}
	return s.run(ctx, u, false)
}

// Retry re-dispatches the last failed utterance of mode. The user entry from
// the first attempt is not repeated.
func (s *Session) Retry(ctx context.Context, mode types.Mode) (dispatch.Completion, error) {
	s.mu.Lock()
	u, ok := s.failed[mode]
	s.mu.Unlock()
	if !ok {
		return dispatch.Completion{}, ErrNothingToRetry
	}
	return s.run(ctx, u, true)
}

func (s *Session) run(ctx context.Context, u types.Utterance, retry bool) (dispatch.Completion, error) {
	s.mu.Lock()
	if s.inFlight[u.Mode] {
		s.mu.Unlock()
		return dispatch.Completion{}, ErrDispatchInFlight
	}
	s.inFlight[u.Mode] = true
	if !u.Level.Valid() {
		u.Level = s.level
	}
	if u.CommittedAt.IsZero() {
		u.CommittedAt = s.now()
	}
	if u.Mode == types.ModeNormal && !retry {
		s.entries = append(s.entries, types.LogEntry{
			Role: types.RoleUser,
			Text: u.Text,
			Mode: u.Mode,
			At:   u.CommittedAt,
		})
	}
	s.mu.Unlock()

	s.log.Debug("dispatching", "mode", u.Mode.String(), "level", int(u.Level), "retry", retry)
	c := s.dispatcher.Dispatch(ctx, u)

	s.mu.Lock()
	delete(s.inFlight, u.Mode)
	if c.Err != nil {
		s.failed[u.Mode] = u
	} else {
		delete(s.failed, u.Mode)
	}
	text := c.Text
	if c.Err != nil {
		text = c.Err.UserMessage()
	}
	if u.Mode == types.ModeWhisper {
		s.hint = text
	} else {
		s.entries = append(s.entries, types.LogEntry{
			Role:   types.RoleAssistant,
			Text:   text,
			Mode:   u.Mode,
			Failed: c.Err != nil,
			At:     s.now(),
		})
	}
	s.mu.Unlock()

	if c.Err != nil {
		s.log.Warn("dispatch failed", "mode", u.Mode.String(), "kind", c.Err.Kind.String(), "err", c.Err)
		if s.notify != nil {
			s.notify(Notice{
				Mode:       u.Mode,
				Kind:       c.Err.Kind,
				Message:    c.Err.UserMessage(),
				Suggestion: c.Err.Suggestion(),
				RetryAfter: c.Err.RetryAfter,
				Retryable:  c.Err.Retryable(),
			})
		}
	}
	return c, nil
}
