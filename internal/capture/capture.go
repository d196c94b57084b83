// Package capture owns speech capture and utterance segmentation for one
// client connection.
//
// A [Capture] holds two recognition contexts: the practice language
// ("en-US") and the whisper language ("ko-KR"). At most one of them listens
// at a time. Recognition results, whether relayed from the browser or
// produced by a server-side STT stream, feed the active context's
// [Segmenter]. Committed text becomes a [types.Utterance] handed to the
// utterance hook; a commit also ends listening, so the client starts the
// microphone again for the next turn.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/pkg/provider/stt"
	"github.com/MrWong99/sloane/pkg/types"
)

// Default recognition settings.
const (
	DefaultPracticeLanguage = "en-US"
	DefaultWhisperLanguage  = "ko-KR"
	DefaultNormalSilence    = 1500 * time.Millisecond
	DefaultWhisperSilence   = 2000 * time.Millisecond
	DefaultSampleRate       = 16000
)

var (
	// ErrClosed is returned by operations on a closed [Capture].
	ErrClosed = errors.New("capture: closed")

	// ErrNotListening is returned by [Capture.SendAudio] while no server-side
	// recognition stream is open.
	ErrNotListening = errors.New("capture: not listening")
)

// Config holds the recognition settings of a [Capture].
type Config struct {
	PracticeLanguage string
	WhisperLanguage  string
	NormalSilence    time.Duration
	WhisperSilence   time.Duration

	// SampleRate is the PCM rate of audio frames forwarded to STT.
	SampleRate int
}

func (c Config) withDefaults() Config {
	if c.PracticeLanguage == "" {
		c.PracticeLanguage = DefaultPracticeLanguage
	}
	if c.WhisperLanguage == "" {
		c.WhisperLanguage = DefaultWhisperLanguage
	}
	if c.NormalSilence <= 0 {
		c.NormalSilence = DefaultNormalSilence
	}
	if c.WhisperSilence <= 0 {
		c.WhisperSilence = DefaultWhisperSilence
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	return c
}

// State is a snapshot of the capture for display.
type State struct {
	// Listening is true while a recognition context is active.
	Listening bool `json:"listening"`

	// Mode is the mode of the selected context.
	Mode types.Mode `json:"mode"`

	// Language is the language of the selected context.
	Language string `json:"language"`

	// WhisperOpen is true between OpenWhisper and CloseWhisper.
	WhisperOpen bool `json:"whisperOpen"`

	// Pending is the uncommitted text of the selected context.
	Pending string `json:"pending,omitempty"`
}

// Hooks receive capture events. Nil hooks are skipped. Hooks are called
// without any capture lock held and may call back into the Capture.
type Hooks struct {
	// Utterance receives every committed utterance.
	Utterance func(u types.Utterance, trigger Trigger)

	// Transcript receives every recognition result as it arrives, for live
	// display of what was heard.
	Transcript func(mode types.Mode, text string, final bool)

	// RecognitionError receives recognition failures.
	RecognitionError func(err *RecognitionError)

	// State receives a snapshot after every listening or context change.
	State func(s State)
}

// Corrector rewrites committed practice-language text.
type Corrector interface {
	CorrectText(text string) string
}

// Option is a functional option for [New].
type Option func(*Capture)

// WithSTT enables server-side recognition of audio frames.
func WithSTT(p stt.Provider, keywords []string) Option {
	return func(c *Capture) {
		c.stt = p
		c.keywords = keywords
	}
}

// WithCorrector sets the practice-language corrector.
func WithCorrector(corr Corrector) Option {
	return func(c *Capture) { c.corrector = corr }
}

// WithLevel sets the function that reports the current difficulty at commit
// time. Defaults to [types.MinLevel].
func WithLevel(fn func() types.Level) Option {
	return func(c *Capture) { c.level = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// Capture is the per-connection recognition state machine. All methods are
// safe for concurrent use.
type Capture struct {
	cfg       Config
	hooks     Hooks
	stt       stt.Provider
	keywords  []string
	corrector Corrector
	level     func() types.Level
	metrics   *observe.Metrics
	now       func() time.Time

	practice *Segmenter
	whisper  *Segmenter

	mu          sync.Mutex
	listening   bool
	whisperOpen bool
	epoch       uint64
	stream      stt.Stream
	closed      bool
}

// New returns an idle Capture with the practice context selected.
func New(cfg Config, hooks Hooks, opts ...Option) *Capture {
	c := &Capture{
		cfg:   cfg.withDefaults(),
		hooks: hooks,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.level == nil {
		c.level = func() types.Level { return types.MinLevel }
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.practice = NewSegmenter(c.cfg.NormalSilence, func(text string, tr Trigger) {
		c.commit(types.ModeNormal, text, tr)
	})
	c.whisper = NewSegmenter(c.cfg.WhisperSilence, func(text string, tr Trigger) {
		c.commit(types.ModeWhisper, text, tr)
	})
	return c
}

// SetSilence changes both silence windows. Zero keeps the current value.
func (c *Capture) SetSilence(normal, whisper time.Duration) {
	if normal > 0 {
		c.practice.SetSilence(normal)
	}
	if whisper > 0 {
		c.whisper.SetSilence(whisper)
	}
}

// State returns a snapshot of the capture.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Capture) stateLocked() State {
	mode, lang, seg := c.selectedLocked()
	return State{
		Listening:   c.listening,
		Mode:        mode,
		Language:    lang,
		WhisperOpen: c.whisperOpen,
		Pending:     seg.Pending(),
	}
}

// selectedLocked returns the context chosen by the whisper flag.
func (c *Capture) selectedLocked() (types.Mode, string, *Segmenter) {
	if c.whisperOpen {
		return types.ModeWhisper, c.cfg.WhisperLanguage, c.whisper
	}
	return types.ModeNormal, c.cfg.PracticeLanguage, c.practice
}

// Start begins listening in the selected context, discarding anything the
// previous listen left pending. With an STT provider configured a
// recognition stream is opened in the context's language.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.haltLocked()
	c.listening = true
	c.epoch++
	epoch := c.epoch
	mode, lang, _ := c.selectedLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	observe.Logger(ctx).Debug("capture started", "mode", mode.String(), "language", lang)
	c.emitState(state)

	if c.stt == nil {
		return nil
	}
	st, err := c.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		Language:   lang,
		Keywords:   c.keywordsFor(mode),
	})
	if err != nil {
		re := NewNetworkError(err)
		c.fail(epoch, re)
		return re
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		_ = st.Close()
		return nil
	}
	c.stream = st
	c.mu.Unlock()

	go c.pump(epoch, st)
	return nil
}

func (c *Capture) keywordsFor(mode types.Mode) []string {
	if mode == types.ModeWhisper {
		return nil
	}
	return c.keywords
}

// Stop ends listening. With flush the pending text is committed, otherwise it
// is discarded.
func (c *Capture) Stop(flush bool) {
	c.mu.Lock()
	if c.closed || !c.listening {
		c.mu.Unlock()
		return
	}
	_, _, seg := c.selectedLocked()
	c.listening = false
	c.epoch++
	c.closeStreamLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	seg.Stop(flush)
	c.emitState(state)
}

// OpenWhisper stops practice recognition and selects the whisper context.
// Listening in Korean begins with the next [Capture.Start].
func (c *Capture) OpenWhisper() {
	c.mu.Lock()
	if c.closed || c.whisperOpen {
		c.mu.Unlock()
		return
	}
	c.haltLocked()
	c.whisperOpen = true
	state := c.stateLocked()
	c.mu.Unlock()

	c.emitState(state)
}

// CloseWhisper stops Korean recognition, discards its pending text and
// restores the practice context.
func (c *Capture) CloseWhisper() {
	c.mu.Lock()
	if c.closed || !c.whisperOpen {
		c.mu.Unlock()
		return
	}
	c.haltLocked()
	c.whisper.Stop(false)
	c.whisperOpen = false
	state := c.stateLocked()
	c.mu.Unlock()

	c.emitState(state)
}

// haltLocked stops whatever is listening without committing.
func (c *Capture) haltLocked() {
	if c.listening {
		_, _, seg := c.selectedLocked()
		seg.Stop(false)
	}
	c.listening = false
	c.epoch++
	c.closeStreamLocked()
}

func (c *Capture) closeStreamLocked() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

// Result feeds one recognition result from the client into the listening
// context. Results arriving while idle are dropped.
func (c *Capture) Result(text string, final bool) {
	c.mu.Lock()
	c.feedLocked(c.epoch, text, final)
}

// feedLocked routes a result when epoch is still current. It releases c.mu.
func (c *Capture) feedLocked(epoch uint64, text string, final bool) {
	if c.closed || !c.listening || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	mode, _, seg := c.selectedLocked()
	c.mu.Unlock()

	if c.hooks.Transcript != nil {
		c.hooks.Transcript(mode, text, final)
	}
	if final {
		seg.Final(text)
	} else {
		seg.Update(text)
	}
}

// SendAudio forwards a PCM frame to the open STT stream.
func (c *Capture) SendAudio(chunk []byte) error {
	c.mu.Lock()
	st := c.stream
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if st == nil {
		return ErrNotListening
	}
	return st.SendAudio(chunk)
}

// Fail reports a recognition error from the client. Listening ends and the
// pending text is discarded.
func (c *Capture) Fail(code string) *RecognitionError {
	re := ParseRecognitionError(code)
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.fail(epoch, re)
	return re
}

func (c *Capture) fail(epoch uint64, re *RecognitionError) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	var seg *Segmenter
	if c.listening {
		_, _, seg = c.selectedLocked()
		c.listening = false
		c.epoch++
		c.closeStreamLocked()
	}
	state := c.stateLocked()
	c.mu.Unlock()

	if seg != nil {
		seg.Stop(false)
	}
	c.metrics.RecordRecognitionError(context.Background(), string(re.Kind))
	if c.hooks.RecognitionError != nil {
		c.hooks.RecognitionError(re)
	}
	c.emitState(state)
}

// Type commits typed text in mode without going through recognition. Blank
// text is ignored.
func (c *Capture) Type(text string, mode types.Mode) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	seg := c.practice
	if mode == types.ModeWhisper {
		seg = c.whisper
	}
	seg.emit(text, TriggerTyped)
}

// pump drives the segmenter from a server-side recognition stream until the
// stream ends or is superseded.
func (c *Capture) pump(epoch uint64, st stt.Stream) {
	for t := range st.Transcripts() {
		c.mu.Lock()
		c.feedLocked(epoch, t.Text, t.IsFinal)
	}
	if err := st.Err(); err != nil {
		c.fail(epoch, NewNetworkError(err))
	}
}

// commit is the segmenter callback for both contexts.
func (c *Capture) commit(mode types.Mode, text string, trigger Trigger) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	lang := c.cfg.PracticeLanguage
	if mode == types.ModeWhisper {
		lang = c.cfg.WhisperLanguage
	}
	var state *State
	selectedMode, _, _ := c.selectedLocked()
	if trigger != TriggerTyped && c.listening && selectedMode == mode {
		c.listening = false
		c.epoch++
		c.closeStreamLocked()
		s := c.stateLocked()
		state = &s
	}
	c.mu.Unlock()

	if trigger == TriggerTyped {
		lang = ""
	}
	if mode == types.ModeNormal && trigger != TriggerTyped && c.corrector != nil {
		text = c.corrector.CorrectText(text)
	}

	u := types.Utterance{
		Text:        text,
		Mode:        mode,
		Level:       c.level(),
		Language:    lang,
		CommittedAt: c.now(),
	}
	c.metrics.RecordUtterance(context.Background(), mode.String(), string(trigger))
	if c.hooks.Utterance != nil {
		c.hooks.Utterance(u, trigger)
	}
	if state != nil {
		c.emitState(*state)
	}
}

func (c *Capture) emitState(s State) {
	if c.hooks.State != nil {
		c.hooks.State(s)
	}
}

// Close disposes both contexts and the STT stream. Later calls are no-ops.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.listening = false
	c.epoch++
	c.closeStreamLocked()
	c.practice.Dispose()
	c.whisper.Dispose()
	return nil
}
