package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/sloane/internal/persona"
	"github.com/MrWong99/sloane/internal/relay"
	"github.com/MrWong99/sloane/internal/session"
	"github.com/MrWong99/sloane/pkg/types"
)

const (
	personaName = "Sloane"
	rule        = "============================================================"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// repl is an interactive practice session. Lines are pitched at the current
// level unless they are one of the commands listed in help.
type repl struct {
	client *relay.Client
	sess   *session.Session
	out    io.Writer
	levels []persona.Scenario
}

func newREPL(client *relay.Client, out io.Writer, level int) *repl {
	r := &repl{client: client, out: out}
	r.sess = session.New(client, session.WithLevel(level), session.WithNotify(r.notice))
	return r
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) banner(ctx context.Context) {
	r.printf("%s\n%s\n%s\n", rule, strings.ToUpper(personaName), rule)
	if sc, ok := r.scenario(ctx, int(r.sess.Level())); ok {
		r.printf("%s: %s\n", personaName, sc.Opening)
	} else {
		r.printf("%s: We don't have time. Pitch me your update.\n", personaName)
	}
	r.help()
}

func (r *repl) help() {
	r.printf("\nCommands: levels | level <N> | whisper <korean> | retry | log | exit\n\n")
}

func (r *repl) loop(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for {
		r.printf("You: ")
		if !sc.Scan() {
			r.printf("\n%s: Time's up. Come back when you're ready.\n", personaName)
			return
		}
		if !r.handle(ctx, sc.Text()) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.printf("\n")
	}
}

// handle runs one input line and reports whether the loop should continue.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "":
		return true
	case "exit", "quit", "bye":
		r.printf("%s: Make it count. Goodbye.\n", personaName)
		return false
	case "help", "?":
		r.help()
	case "levels", "scenarios":
		r.listLevels(ctx)
	case "level":
		r.setLevel(ctx, rest)
	case "start":
		// "start level N" is an alias for "level N".
		if lvl, ok := strings.CutPrefix(strings.ToLower(rest), "level"); ok {
			r.setLevel(ctx, strings.TrimSpace(lvl))
			return true
		}
		r.pitch(ctx, line)
	case "whisper":
		r.whisper(ctx, rest)
	case "retry":
		r.retry(ctx)
	case "log":
		r.printLog()
	default:
		r.pitch(ctx, line)
	}
	return true
}

// pitch submits text in normal mode and prints the reply. It reports whether
// a reply arrived.
func (r *repl) pitch(ctx context.Context, text string) bool {
	comp, err := r.sess.Submit(ctx, types.Utterance{Text: text, Mode: types.ModeNormal})
	if err != nil {
		r.printf("(%v)\n", err)
		return false
	}
	if !comp.OK() {
		return false
	}
	r.printf("%s: %s\n", personaName, comp.Text)
	return true
}

func (r *repl) whisper(ctx context.Context, text string) {
	if text == "" {
		r.printf("usage: whisper <what you want to say in Korean>\n")
		return
	}
	defer r.sess.ClearWhisper()
	comp, err := r.sess.Submit(ctx, types.Utterance{Text: text, Mode: types.ModeWhisper})
	if err != nil {
		r.printf("(%v)\n", err)
		return
	}
	if comp.OK() {
		r.printf("Say: %s\n", r.sess.WhisperHint())
	}
}

func (r *repl) retry(ctx context.Context) {
	comp, err := r.sess.Retry(ctx, types.ModeNormal)
	if err != nil {
		r.printf("Nothing to retry.\n")
		return
	}
	if comp.OK() {
		r.printf("%s: %s\n", personaName, comp.Text)
	}
}

// notice prints a failed dispatch. The session has already logged it.
func (r *repl) notice(n session.Notice) {
	r.printf("! %s\n", n.Message)
	if n.Suggestion != "" {
		r.printf("  %s\n", n.Suggestion)
	}
	switch {
	case n.RetryAfter > 0:
		r.printf("  Type 'retry' in %d seconds.\n", int((n.RetryAfter+time.Second-1)/time.Second))
	case n.Retryable && n.Mode == types.ModeNormal:
		r.printf("  Type 'retry' to try again.\n")
	}
}

func (r *repl) listLevels(ctx context.Context) {
	levels, err := r.catalog(ctx)
	if err != nil {
		r.printf("(could not load levels: %v)\n", err)
		return
	}
	current := r.sess.Level()
	for _, sc := range levels {
		marker := " "
		if sc.Level == current {
			marker = "*"
		}
		r.printf("%s %d. %s\n", marker, sc.Level, sc.Title)
	}
}

func (r *repl) setLevel(ctx context.Context, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		r.printf("usage: level <%d-%d>\n", types.MinLevel, types.MaxLevel)
		return
	}
	level := r.sess.SetLevel(n)
	sc, ok := r.scenario(ctx, int(level))
	if !ok {
		r.printf("Level %d.\n", level)
		return
	}
	r.printf("\n%s\nLEVEL %d: %s\n%s\n", rule, sc.Level, strings.ToUpper(sc.Title), rule)
	r.printf("Situation: %s\nGoal: %s\n%s\n\n", sc.Situation, sc.Goal, rule)
	r.printf("%s: %s\n", personaName, sc.Opening)
}

func (r *repl) printLog() {
	entries := r.sess.Log()
	if len(entries) == 0 {
		r.printf("(no conversation yet)\n")
		return
	}
	for _, e := range entries {
		who := "You"
		if e.Role == types.RoleAssistant {
			who = personaName
		}
		mark := ""
		if e.Failed {
			mark = " [failed]"
		}
		r.printf("[%s] %s%s: %s\n", e.At.Format(time.TimeOnly), who, mark, e.Text)
	}
}

func (r *repl) catalog(ctx context.Context) ([]persona.Scenario, error) {
	if r.levels != nil {
		return r.levels, nil
	}
	levels, err := r.client.Levels(ctx)
	if err != nil {
		return nil, err
	}
	r.levels = levels
	return levels, nil
}

func (r *repl) scenario(ctx context.Context, level int) (persona.Scenario, bool) {
	levels, err := r.catalog(ctx)
	if err != nil {
		return persona.Scenario{}, false
	}
	for _, sc := range levels {
		if int(sc.Level) == level {
			return sc, true
		}
	}
	return persona.Scenario{}, false
}
