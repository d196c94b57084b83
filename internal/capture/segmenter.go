package capture

import (
	"strings"
	"sync"
	"time"
)

// Trigger names what committed an utterance.
type Trigger string

const (
	// TriggerSilence means no new text arrived within the silence window.
	TriggerSilence Trigger = "silence"

	// TriggerFinal means the recogniser flagged its result as final.
	TriggerFinal Trigger = "final"

	// TriggerFlush means recognition was stopped with a request to keep the
	// pending text.
	TriggerFlush Trigger = "flush"

	// TriggerTyped means the text was typed rather than spoken.
	TriggerTyped Trigger = "typed"
)

// CommitFunc receives committed text. It is never called with blank text and
// never while the [Segmenter]'s lock is held.
type CommitFunc func(text string, trigger Trigger)

// Segmenter turns a stream of recognition results into discrete utterances
// for one recognition context.
//
// Every result replaces the buffer with the full text heard so far. A
// non-blank result re-arms the silence timer; when it expires the buffer is
// committed. A final result commits at once. Whichever of the two happens
// first wins and the other becomes a no-op, because committing clears the
// buffer and invalidates the timer.
//
// All methods are safe for concurrent use.
type Segmenter struct {
	commit CommitFunc

	mu       sync.Mutex
	silence  time.Duration
	buf      string
	timer    *time.Timer
	gen      uint64
	disposed bool
}

// NewSegmenter returns a Segmenter that commits after silence without new
// results. commit must not be nil.
func NewSegmenter(silence time.Duration, commit CommitFunc) *Segmenter {
	return &Segmenter{silence: silence, commit: commit}
}

// SetSilence changes the silence window. It applies from the next
// [Segmenter.Update].
func (s *Segmenter) SetSilence(d time.Duration) {
	s.mu.Lock()
	s.silence = d
	s.mu.Unlock()
}

// Silence returns the current silence window.
func (s *Segmenter) Silence() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silence
}

// Pending returns the buffered, uncommitted text.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// Update replaces the buffer with text. Blank text clears the buffer without
// touching the timer, so an expiring timer then commits nothing.
func (s *Segmenter) Update(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.buf = text
	if strings.TrimSpace(text) == "" {
		return
	}
	s.armLocked()
}

// Final commits text immediately. Blank text commits the current buffer
// instead, which covers recognisers that end with an empty final.
func (s *Segmenter) Final(text string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if strings.TrimSpace(text) == "" {
		text = s.buf
	}
	s.resetLocked()
	s.mu.Unlock()

	s.emit(text, TriggerFinal)
}

// Stop cancels the pending timer. With flush the buffered text is committed,
// otherwise it is discarded.
func (s *Segmenter) Stop(flush bool) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	text := s.buf
	s.resetLocked()
	s.mu.Unlock()

	if flush {
		s.emit(text, TriggerFlush)
	}
}

// Dispose stops the timer and turns every later call into a no-op.
func (s *Segmenter) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.disposed = true
}

func (s *Segmenter) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.silence, func() { s.expire(gen) })
}

func (s *Segmenter) resetLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.buf = ""
}

// expire runs on the timer goroutine. A stale generation means the timer was
// re-armed, stopped or beaten by a final after it had already fired.
func (s *Segmenter) expire(gen uint64) {
	s.mu.Lock()
	if s.disposed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	text := s.buf
	s.resetLocked()
	s.mu.Unlock()

	s.emit(text, TriggerSilence)
}

func (s *Segmenter) emit(text string, trigger Trigger) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.commit(text, trigger)
}
