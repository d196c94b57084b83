package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/internal/session"
	"github.com/MrWong99/sloane/pkg/types"
)

const (
	// maxFrame caps a single inbound frame: one second of 48 kHz PCM fits.
	maxFrame = 128 << 10

	// writeTimeout bounds a single outbound frame.
	writeTimeout = 5 * time.Second

	// outboxSize is the number of events buffered for a slow client.
	outboxSize = 64
)

// errClientGone ends the event loop when the client closes the socket.
var errClientGone = errors.New("relay: client closed capture socket")

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("capture socket upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(maxFrame)

	id := uuid.NewString()
	ctx := observe.WithCaptureID(r.Context(), id)
	g, gctx := errgroup.WithContext(ctx)

	c := s.newConn(gctx, id, r.RemoteAddr, ws)
	s.sessions.add(ctx, c)
	defer s.sessions.remove(ctx, id)

	c.log.Info("capture socket opened", "remote", r.RemoteAddr)
	c.sendState()

	g.Go(c.writeLoop)
	g.Go(c.readLoop)
	err = g.Wait()

	c.shutdown()
	switch {
	case errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		c.log.Warn("capture socket failed", "err", err)
		ws.Close(websocket.StatusInternalError, "capture failed")
	}
	c.log.Info("capture socket closed")
}

// originPatterns converts the CORS origins into host patterns for the
// WebSocket origin check.
func (s *Server) originPatterns() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	pats := make([]string, 0, len(s.origins))
	for _, o := range s.origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		pats = append(pats, o)
	}
	return pats
}

// conn is one capture socket: a practice session, its capture state machine
// and the outbound event queue.
type conn struct {
	id        string
	remote    string
	startedAt time.Time
	ctx       context.Context
	ws        *websocket.Conn
	sess      *session.Session
	capt      *capture.Capture
	out       chan ServerEvent
	log       *slog.Logger

	mu         sync.Mutex
	closing    bool
	dispatches sync.WaitGroup
}

func (s *Server) newConn(ctx context.Context, id, remote string, ws *websocket.Conn) *conn {
	c := &conn{
		id:        id,
		remote:    remote,
		startedAt: time.Now(),
		ctx:       ctx,
		ws:        ws,
		out:       make(chan ServerEvent, outboxSize),
		log:       observe.Logger(ctx),
	}
	c.sess = session.New(s.dispatcher, session.WithNotify(c.onNotice))

	opts := []capture.Option{
		capture.WithLevel(c.sess.Level),
		capture.WithMetrics(s.metrics),
	}
	if s.stt != nil {
		opts = append(opts, capture.WithSTT(s.stt, s.keywords))
	}
	if s.corrector != nil {
		opts = append(opts, capture.WithCorrector(s.corrector))
	}
	c.capt = capture.New(s.captureCfg(), capture.Hooks{
		Utterance:        c.onUtterance,
		Transcript:       c.onTranscript,
		RecognitionError: c.onRecognitionError,
		State:            func(capture.State) { c.sendState() },
	}, opts...)
	return c
}

// send queues ev. It drops ev once the socket is shutting down.
func (c *conn) send(ev ServerEvent) {
	select {
	case c.out <- ev:
	case <-c.ctx.Done():
	}
}

func (c *conn) snapshot() *StateSnapshot {
	snap := &StateSnapshot{
		State:       c.capt.State(),
		SessionID:   c.sess.ID(),
		Level:       int(c.sess.Level()),
		WhisperHint: c.sess.WhisperHint(),
	}
	for _, m := range []types.Mode{types.ModeNormal, types.ModeWhisper} {
		if c.sess.InFlight(m) {
			snap.InFlight = append(snap.InFlight, m)
		}
	}
	return snap
}

func (c *conn) sendState() {
	c.send(ServerEvent{Type: EventState, State: c.snapshot()})
}

func (c *conn) writeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case ev := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *conn) readLoop() error {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errClientGone
			}
			if c.ctx.Err() != nil {
				return c.ctx.Err()
			}
			return err
		}
		if typ == websocket.MessageBinary {
			c.handleAudio(data)
			continue
		}
		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.send(ServerEvent{Type: EventNotice, Kind: NoticeBadEvent, Error: "Malformed event: " + err.Error()})
			continue
		}
		c.handle(ev)
	}
}

func (c *conn) handleAudio(chunk []byte) {
	err := c.capt.SendAudio(chunk)
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrNotListening):
		c.log.Debug("audio frame while not listening dropped", "bytes", len(chunk))
	default:
		c.log.Warn("forward audio failed", "err", err)
	}
}

func (c *conn) handle(ev ClientEvent) {
	switch ev.Type {
	case EventStart:
		if ev.Mode != nil {
			c.selectMode(*ev.Mode)
		}
		if err := c.capt.Start(c.ctx); err != nil {
			// Recognition errors were already reported through the hook.
			c.log.Debug("capture start failed", "err", err)
		}
	case EventStop:
		c.capt.Stop(ev.Flush)
	case EventResult:
		c.capt.Result(ev.Text, ev.Final)
	case EventError:
		c.capt.Fail(ev.Error)
	case EventWhisperOpen:
		c.capt.OpenWhisper()
	case EventWhisperClose:
		c.closeWhisper()
	case EventLevel:
		c.sess.SetLevel(ev.Level)
		c.sendState()
	case EventText:
		c.capt.Type(ev.Text, modeOr(ev.Mode))
	case EventRetry:
		mode := modeOr(ev.Mode)
		c.run(func(ctx context.Context) (dispatchResult, error) {
			comp, err := c.sess.Retry(ctx, mode)
			return dispatchResult{comp, mode}, err
		})
	default:
		c.send(ServerEvent{Type: EventNotice, Kind: NoticeBadEvent, Error: "Unknown event type " + ev.Type + "."})
	}
}

func modeOr(m *types.Mode) types.Mode {
	if m == nil {
		return types.ModeNormal
	}
	return *m
}

// selectMode switches the capture to the context of m before listening.
func (c *conn) selectMode(m types.Mode) {
	open := c.capt.State().WhisperOpen
	switch {
	case m == types.ModeWhisper && !open:
		c.capt.OpenWhisper()
	case m == types.ModeNormal && open:
		c.closeWhisper()
	}
}

// closeWhisper clears the hint before the capture reports the closed panel,
// so no state event shows a closed panel with a stale hint.
func (c *conn) closeWhisper() {
	c.sess.ClearWhisper()
	c.capt.CloseWhisper()
	c.sendState()
}

func (c *conn) onTranscript(mode types.Mode, text string, final bool) {
	c.send(ServerEvent{Type: EventTranscript, Mode: modeRef(mode), Text: text, Final: final})
}

func (c *conn) onRecognitionError(re *capture.RecognitionError) {
	c.send(ServerEvent{
		Type:      EventRecognitionError,
		Kind:      string(re.Kind),
		Code:      re.Code,
		Error:     re.Message(),
		Retryable: re.Retryable(),
	})
}

func (c *conn) onUtterance(u types.Utterance, trigger capture.Trigger) {
	c.send(ServerEvent{
		Type:     EventUtterance,
		Mode:     modeRef(u.Mode),
		Text:     u.Text,
		Trigger:  string(trigger),
		Level:    int(u.Level),
		Language: u.Language,
	})
	c.run(func(ctx context.Context) (dispatchResult, error) {
		comp, err := c.sess.Submit(ctx, u)
		return dispatchResult{comp, u.Mode}, err
	})
}

func (c *conn) onNotice(n session.Notice) {
	c.send(ServerEvent{
		Type:       EventNotice,
		Mode:       modeRef(n.Mode),
		Kind:       n.Kind.String(),
		Error:      n.Message,
		Suggestion: n.Suggestion,
		RetryAfter: int((n.RetryAfter + time.Second - 1) / time.Second),
		Retryable:  n.Retryable,
	})
}

type dispatchResult struct {
	comp dispatch.Completion
	mode types.Mode
}

// run executes one session dispatch off the read loop and reports its
// outcome. The session rejects a second dispatch for the same mode.
func (c *conn) run(fn func(ctx context.Context) (dispatchResult, error)) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.dispatches.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.dispatches.Done()
		res, err := fn(c.ctx)
		c.report(res, err)
		c.sendState()
	}()
}

func (c *conn) report(res dispatchResult, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyUtterance):
		return
	case errors.Is(err, session.ErrDispatchInFlight):
		c.send(ServerEvent{
			Type:  EventNotice,
			Mode:  modeRef(res.mode),
			Kind:  NoticeBusy,
			Error: "Still waiting on the last answer.",
		})
		return
	case errors.Is(err, session.ErrNothingToRetry):
		c.send(ServerEvent{
			Type:  EventNotice,
			Mode:  modeRef(res.mode),
			Kind:  NoticeNothingRetry,
			Error: "Nothing to retry.",
		})
		return
	case err != nil:
		c.log.Warn("dispatch not started", "err", err)
		return
	}

	comp := res.comp
	if comp.OK() {
		c.send(ServerEvent{Type: EventCompletion, Mode: modeRef(comp.Mode), Text: comp.Text, Model: comp.Model})
		return
	}
	e := comp.Err
	c.send(ServerEvent{
		Type:       EventFailure,
		Mode:       modeRef(comp.Mode),
		Kind:       e.Kind.String(),
		Model:      e.Model,
		Error:      e.UserMessage(),
		Suggestion: e.Suggestion(),
		RetryAfter: e.RetryAfterSeconds(),
		Retryable:  e.Retryable(),
	})
}

// shutdown releases the capture and waits for pending dispatches, which see
// a canceled context once the event loop has ended.
func (c *conn) shutdown() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	_ = c.capt.Close()
	c.dispatches.Wait()
}
