package relay_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/relay"
	"github.com/MrWong99/sloane/pkg/provider/stt"
	sttmock "github.com/MrWong99/sloane/pkg/provider/stt/mock"
	"github.com/MrWong99/sloane/pkg/types"
)

const eventTimeout = 5 * time.Second

func dialCapture(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/capture"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })

	// The server greets every socket with its state.
	first := readUntil(t, ws, relay.EventState, nil)
	if first.State == nil || first.State.SessionID == "" {
		t.Fatalf("greeting state = %+v", first.State)
	}
	return ws
}

func send(t *testing.T, ws *websocket.Conn, ev relay.ClientEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, ev); err != nil {
		t.Fatalf("write %s: %v", ev.Type, err)
	}
}

// readUntil reads events until one of type typ satisfies match, skipping the
// rest. A nil match accepts the first event of that type.
func readUntil(t *testing.T, ws *websocket.Conn, typ string, match func(relay.ServerEvent) bool) relay.ServerEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	for {
		var ev relay.ServerEvent
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if ev.Type == typ && (match == nil || match(ev)) {
			return ev
		}
	}
}

func modeOf(ev relay.ServerEvent) types.Mode {
	if ev.Mode == nil {
		return types.ModeNormal
	}
	return *ev.Mode
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mode(m types.Mode) *types.Mode { return &m }

func TestCapture_FinalResultDispatches(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool { return ev.State.Listening })

	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "We sell shovels", Final: true})

	tr := readUntil(t, ws, relay.EventTranscript, nil)
	if tr.Text != "We sell shovels" || !tr.Final {
		t.Errorf("transcript = %+v", tr)
	}
	u := readUntil(t, ws, relay.EventUtterance, nil)
	if u.Text != "We sell shovels" || u.Trigger != string(capture.TriggerFinal) || u.Language != "en-US" || u.Level != 1 {
		t.Errorf("utterance = %+v", u)
	}
	comp := readUntil(t, ws, relay.EventCompletion, nil)
	if comp.Text != "echo: We sell shovels" || comp.Model != "stub-model" || modeOf(comp) != types.ModeNormal {
		t.Errorf("completion = %+v", comp)
	}
	// A commit stops listening, and the dispatch is done once reported.
	readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool {
		return !ev.State.Listening && len(ev.State.InFlight) == 0
	})

	if calls := d.Calls(); len(calls) != 1 || calls[0].Mode != types.ModeNormal {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestCapture_SilenceCommitsPendingText(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, &stubDispatcher{}, relay.WithCaptureConfig(func() capture.Config {
		return capture.Config{NormalSilence: 40 * time.Millisecond}
	}))
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "hello"})
	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "hello there"})

	u := readUntil(t, ws, relay.EventUtterance, nil)
	if u.Text != "hello there" || u.Trigger != string(capture.TriggerSilence) {
		t.Errorf("utterance = %+v", u)
	}
	readUntil(t, ws, relay.EventCompletion, nil)
}

func TestCapture_StopFlushCommits(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, &stubDispatcher{})
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "half a thought"})
	send(t, ws, relay.ClientEvent{Type: relay.EventStop, Flush: true})

	u := readUntil(t, ws, relay.EventUtterance, nil)
	if u.Text != "half a thought" || u.Trigger != string(capture.TriggerFlush) {
		t.Errorf("utterance = %+v", u)
	}
}

func TestCapture_RecognitionError(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "never sent"})
	send(t, ws, relay.ClientEvent{Type: relay.EventError, Error: "not-allowed"})

	re := readUntil(t, ws, relay.EventRecognitionError, nil)
	if re.Kind != string(capture.ErrKindNotAllowed) || re.Retryable || re.Error == "" {
		t.Errorf("recognition error = %+v", re)
	}
	st := readUntil(t, ws, relay.EventState, nil)
	if st.State.Listening || st.State.Pending != "" {
		t.Errorf("state after error = %+v", st.State)
	}
	if len(d.Calls()) != 0 {
		t.Error("pending text must be discarded on error")
	}
}

func TestCapture_LevelAndTypedText(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventLevel, Level: 3})
	st := readUntil(t, ws, relay.EventState, nil)
	if st.State.Level != 3 {
		t.Fatalf("level = %d, want 3", st.State.Level)
	}

	send(t, ws, relay.ClientEvent{Type: relay.EventLevel, Level: 9})
	st = readUntil(t, ws, relay.EventState, nil)
	if st.State.Level != 1 {
		t.Errorf("out of range level = %d, want 1", st.State.Level)
	}

	send(t, ws, relay.ClientEvent{Type: relay.EventLevel, Level: 3})
	readUntil(t, ws, relay.EventState, nil)

	send(t, ws, relay.ClientEvent{Type: relay.EventText, Text: "  typed pitch  "})
	u := readUntil(t, ws, relay.EventUtterance, nil)
	if u.Trigger != string(capture.TriggerTyped) || u.Level != 3 || u.Language != "" {
		t.Errorf("utterance = %+v", u)
	}
	readUntil(t, ws, relay.EventCompletion, nil)

	if calls := d.Calls(); len(calls) != 1 || calls[0].Level != 3 {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestCapture_WhisperRoundTrip(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventWhisperOpen})
	st := readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool { return ev.State.WhisperOpen })
	if st.State.Mode != types.ModeWhisper || st.State.Language != capture.DefaultWhisperLanguage {
		t.Errorf("whisper state = %+v", st.State)
	}

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	send(t, ws, relay.ClientEvent{Type: relay.EventResult, Text: "가격이 얼마예요", Final: true})

	u := readUntil(t, ws, relay.EventUtterance, nil)
	if modeOf(u) != types.ModeWhisper || u.Language != "ko-KR" {
		t.Errorf("utterance = %+v", u)
	}
	comp := readUntil(t, ws, relay.EventCompletion, nil)
	if modeOf(comp) != types.ModeWhisper {
		t.Errorf("completion mode = %v", modeOf(comp))
	}
	st = readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool { return ev.State.WhisperHint != "" })
	if st.State.WhisperHint != "echo: 가격이 얼마예요" {
		t.Errorf("hint = %q", st.State.WhisperHint)
	}

	send(t, ws, relay.ClientEvent{Type: relay.EventWhisperClose})
	st = readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool { return !ev.State.WhisperOpen })
	if st.State.WhisperHint != "" || st.State.Mode != types.ModeNormal {
		t.Errorf("state after close = %+v", st.State)
	}
}

func TestCapture_StartModeSwitchesContext(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, &stubDispatcher{})
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart, Mode: mode(types.ModeWhisper)})
	readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool {
		return ev.State.WhisperOpen && ev.State.Listening
	})

	send(t, ws, relay.ClientEvent{Type: relay.EventStart, Mode: mode(types.ModeNormal)})
	st := readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool {
		return !ev.State.WhisperOpen && ev.State.Listening
	})
	if st.State.Language != capture.DefaultPracticeLanguage {
		t.Errorf("language = %q", st.State.Language)
	}
}

func TestCapture_FailureThenRetry(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{fn: func(_ context.Context, u types.Utterance) dispatch.Completion {
		return dispatch.Completion{Mode: u.Mode, Model: "m1", Err: &dispatch.Error{Kind: dispatch.KindTimeout, Message: "deadline", Model: "m1"}}
	}}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventRetry})
	n := readUntil(t, ws, relay.EventNotice, nil)
	if n.Kind != relay.NoticeNothingRetry {
		t.Fatalf("notice = %+v", n)
	}

	send(t, ws, relay.ClientEvent{Type: relay.EventText, Text: "Buy my pen."})
	n = readUntil(t, ws, relay.EventNotice, nil)
	if n.Kind != dispatch.KindTimeout.String() || !n.Retryable {
		t.Errorf("notice = %+v", n)
	}
	f := readUntil(t, ws, relay.EventFailure, nil)
	if f.Kind != dispatch.KindTimeout.String() || f.Model != "m1" || !f.Retryable || f.Error == "" {
		t.Errorf("failure = %+v", f)
	}

	d.mu.Lock()
	d.fn = nil
	d.mu.Unlock()

	send(t, ws, relay.ClientEvent{Type: relay.EventRetry})
	comp := readUntil(t, ws, relay.EventCompletion, nil)
	if comp.Text != "echo: Buy my pen." {
		t.Errorf("retry completion = %+v", comp)
	}
	if calls := d.Calls(); len(calls) != 2 || calls[1].Text != "Buy my pen." {
		t.Errorf("dispatch calls = %+v", calls)
	}
}

func TestCapture_BusyWhileInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	d := &stubDispatcher{fn: func(ctx context.Context, u types.Utterance) dispatch.Completion {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return dispatch.Completion{Text: "done", Model: "m", Mode: u.Mode}
	}}
	_, ts := newTestServer(t, d)
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventText, Text: "first"})
	waitFor(t, "first dispatch", func() bool { return len(d.Calls()) == 1 })

	send(t, ws, relay.ClientEvent{Type: relay.EventText, Text: "second"})
	n := readUntil(t, ws, relay.EventNotice, nil)
	if n.Kind != relay.NoticeBusy {
		t.Errorf("notice = %+v", n)
	}

	close(release)
	comp := readUntil(t, ws, relay.EventCompletion, nil)
	if comp.Text != "done" {
		t.Errorf("completion = %+v", comp)
	}
	if len(d.Calls()) != 1 {
		t.Errorf("dispatch calls = %d, want 1", len(d.Calls()))
	}
}

func TestCapture_BadEvents(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, &stubDispatcher{})
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: "dance"})
	n := readUntil(t, ws, relay.EventNotice, nil)
	if n.Kind != relay.NoticeBadEvent || !strings.Contains(n.Error, "dance") {
		t.Errorf("notice = %+v", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	n = readUntil(t, ws, relay.EventNotice, nil)
	if n.Kind != relay.NoticeBadEvent {
		t.Errorf("notice = %+v", n)
	}

	// Audio without a recognition stream is dropped, and the socket stays up.
	if err := ws.Write(ctx, websocket.MessageBinary, make([]byte, 320)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	send(t, ws, relay.ClientEvent{Type: relay.EventLevel, Level: 2})
	readUntil(t, ws, relay.EventState, func(ev relay.ServerEvent) bool { return ev.State.Level == 2 })
}

func TestCapture_ServerSideRecognition(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{}
	_, ts := newTestServer(t, &stubDispatcher{}, relay.WithSTT(p, []string{"TAM:2"}))
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	waitFor(t, "stream start", func() bool { return p.Last() != nil })

	calls := p.Calls()
	if cfg := calls[0].Cfg; cfg.Language != "en-US" || cfg.SampleRate != capture.DefaultSampleRate {
		t.Errorf("stream config = %+v", cfg)
	}

	frame := []byte{1, 2, 3, 4}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	// The stream is registered just after StartStream returns.
	waitFor(t, "audio forwarded", func() bool {
		if err := ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write audio: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
		return len(p.Last().Audio()) > 0
	})

	p.Last().Emit(stt.Transcript{Text: "our churn is low", IsFinal: true})
	u := readUntil(t, ws, relay.EventUtterance, nil)
	if u.Text != "our churn is low" || u.Trigger != string(capture.TriggerFinal) {
		t.Errorf("utterance = %+v", u)
	}
	readUntil(t, ws, relay.EventCompletion, nil)
	waitFor(t, "stream closed", func() bool { return p.Last().CloseCount() > 0 })
}

func TestCapture_ServerSideRecognitionFailure(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{StartStreamErr: context.DeadlineExceeded}
	_, ts := newTestServer(t, &stubDispatcher{}, relay.WithSTT(p, nil))
	ws := dialCapture(t, ts)

	send(t, ws, relay.ClientEvent{Type: relay.EventStart})
	re := readUntil(t, ws, relay.EventRecognitionError, nil)
	if re.Kind != string(capture.ErrKindNetwork) || !re.Retryable {
		t.Errorf("recognition error = %+v", re)
	}
}
