// Package deepgram provides an STT provider backed by the Deepgram streaming
// WebSocket API.
//
// Deepgram finalises speech in segments (is_final) and separately signals the
// end of an utterance (speech_final, or an UtteranceEnd event). The session
// stitches finalised segments together so every emitted partial carries the
// whole utterance so far, and emits one final per utterance.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/sloane/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// utteranceEndMS asks Deepgram for an UtteranceEnd event after this much
	// silence following the last finalised word.
	utteranceEndMS = 1000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model ("nova-3", "nova-2", ...).
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a stream does not name one.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the sample rate used when a stream does not name one.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the streaming endpoint. Used to point the provider at
// a test server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a running stream.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	wsURL, lang, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The stream outlives the dial context; Close ends it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:     conn,
		language: lang,
		out:      make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	s.wg.Add(2)
	go s.readLoop(sctx)
	go s.writeLoop(sctx)
	return s, nil
}

// buildURL returns the streaming URL for cfg and the language it selects.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", strconv.Itoa(utteranceEndMS))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	// nova-3 takes key terms; older models take boosted keywords.
	for _, kw := range cfg.Keywords {
		if strings.HasPrefix(p.model, "nova-3") {
			q.Add("keyterm", kw)
		} else {
			q.Add("keywords", kw+":2")
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), lang, nil
}

// message is the subset of Deepgram's streaming responses the session reads.
type message struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// stream is a live Deepgram session. It implements stt.Stream.
type stream struct {
	conn     *websocket.Conn
	language string
	out      chan stt.Transcript
	audio    chan []byte

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	// Owned by readLoop.
	segments   []string
	confidence float64
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrClosed
	}
}

func (s *stream) Transcripts() <-chan stt.Transcript { return s.out }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush what it has before the socket goes away.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.fail(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.out)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		for _, t := range s.handle(data) {
			select {
			case s.out <- t:
			case <-s.done:
				return
			}
		}
	}
}

// fail records err unless the stream is closing or the peer closed normally.
func (s *stream) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("deepgram: %w", err)
	}
	s.mu.Unlock()
}

// handle folds one Deepgram message into the utterance state and returns the
// transcripts to emit.
func (s *stream) handle(data []byte) []stt.Transcript {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "UtteranceEnd":
		if t, ok := s.finish(); ok {
			return []stt.Transcript{t}
		}
		return nil
	case "Results":
	default:
		return nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	alt := msg.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)

	if !msg.IsFinal {
		if text == "" {
			return nil
		}
		return []stt.Transcript{s.transcript(join(s.segments, text), alt.Confidence, false)}
	}

	if text != "" {
		s.segments = append(s.segments, text)
		s.confidence = alt.Confidence
	}
	if msg.SpeechFinal {
		if t, ok := s.finish(); ok {
			return []stt.Transcript{t}
		}
		return nil
	}
	if text == "" {
		return nil
	}
	return []stt.Transcript{s.transcript(join(s.segments, ""), alt.Confidence, false)}
}

// finish emits the accumulated utterance as a final and resets.
func (s *stream) finish() (stt.Transcript, bool) {
	if len(s.segments) == 0 {
		return stt.Transcript{}, false
	}
	t := s.transcript(join(s.segments, ""), s.confidence, true)
	s.segments = s.segments[:0]
	s.confidence = 0
	return t, true
}

func (s *stream) transcript(text string, conf float64, final bool) stt.Transcript {
	return stt.Transcript{Text: text, IsFinal: final, Confidence: conf, Language: s.language}
}

func join(segments []string, tail string) string {
	parts := segments
	if tail != "" {
		parts = append(parts[:len(parts):len(parts)], tail)
	}
	return strings.Join(parts, " ")
}
