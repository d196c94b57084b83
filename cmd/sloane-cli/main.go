// Command sloane-cli practises a pitch against a running Sloane relay from
// the terminal.
//
// Usage:
//
//	sloane-cli [-relay http://localhost:8080] [-level 2] [pitch ...]
//
// With arguments it sends them as a single pitch and prints the reply.
// Without, it starts an interactive session.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/sloane/internal/config"
	"github.com/MrWong99/sloane/internal/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout))
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) int {
	fs := flag.NewFlagSet("sloane-cli", flag.ContinueOnError)
	fs.SetOutput(out)
	relayURL := fs.String("relay", envOr("SLOANE_RELAY", "http://localhost:8080"), "base URL of the Sloane relay")
	level := fs.Int("level", 1, "starting difficulty (1-4)")
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait for each reply")
	verbose := fs.Bool("v", false, "log debug output to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(out, "sloane-cli: %v\n", err)
	}
	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	client, err := relay.NewClient(*relayURL, relay.WithHTTPClient(newHTTPClient(*timeout)))
	if err != nil {
		fmt.Fprintf(out, "sloane-cli: %v\n", err)
		return 2
	}

	r := newREPL(client, out, *level)
	if pitch := strings.TrimSpace(strings.Join(fs.Args(), " ")); pitch != "" {
		if !r.pitch(ctx, pitch) {
			return 1
		}
		return 0
	}

	r.banner(ctx)
	r.loop(ctx, in)
	return 0
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
