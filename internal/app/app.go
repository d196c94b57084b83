// Package app wires the Sloane subsystems into a running relay.
//
// The App struct owns the full lifecycle: New builds the dispatcher, the
// capture settings and the HTTP surface from the config, Run serves until the
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject a metrics sink with [WithMetrics] so New does not
// install the global OpenTelemetry providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/internal/config"
	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/health"
	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/internal/persona"
	"github.com/MrWong99/sloane/internal/relay"
	"github.com/MrWong99/sloane/internal/transcript"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	level          *slog.LevelVar
	configPath     string
	reloadInterval time.Duration
	version        string

	metrics    *observe.Metrics
	telemetry  *observe.Telemetry
	dispatcher *dispatch.Dispatcher
	relay      *relay.Server
	server     *http.Server
	watcher    *config.Watcher

	voice      atomic.Pointer[relay.VoiceProfile]
	captureCfg atomic.Pointer[capture.Config]

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar lets config reloads change the log level of the handler that
// reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload of the config file at path, polled every
// interval. Zero uses the watcher default.
func WithConfigPath(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadInterval = interval
	}
}

// WithMetrics injects a metrics sink. Without it New initialises the
// OpenTelemetry SDK and serves /metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. providers.LLM must
// be set.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(SlogLevel(cfg.Server.LogLevel))
	}

	// 1. Telemetry
	if a.metrics == nil {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: a.version})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.telemetry = tel
		a.closers = append(a.closers, tel.Shutdown)
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// 2. Scenarios and prompt dispatch
	catalog := persona.DefaultCatalog()
	if cfg.Scenarios != "" {
		c, err := persona.LoadCatalog(cfg.Scenarios)
		if err != nil {
			return nil, fmt.Errorf("app: load scenarios: %w", err)
		}
		catalog = c
	}
	d, err := dispatch.New(providers.LLM, dispatchConfig(cfg),
		dispatch.WithBuilder(persona.NewBuilder(persona.WithCatalog(catalog))),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}
	a.dispatcher = d
	if !d.HasCredential() {
		slog.Warn("llm provider has no API key; every dispatch will fail until one is configured",
			"provider", providers.LLM.Name())
	}

	// 3. Capture settings and jargon vocabulary
	a.voice.Store(voiceProfile(cfg))
	a.captureCfg.Store(captureConfig(cfg))

	terms, err := loadVocabulary(cfg.Capture.Vocabulary)
	if err != nil {
		return nil, fmt.Errorf("app: load vocabulary: %w", err)
	}

	// 4. HTTP surface
	relayOpts := []relay.Option{
		relay.WithCatalog(catalog),
		relay.WithVoice(func() relay.VoiceProfile { return *a.voice.Load() }),
		relay.WithCaptureConfig(func() capture.Config { return *a.captureCfg.Load() }),
		relay.WithMetrics(a.metrics),
		relay.WithHealth(health.New(health.CredentialChecker("llm", d))),
		relay.WithCORSOrigins(cfg.Server.CORSOrigins),
		relay.WithChatRateLimit(cfg.Server.ChatRateLimit),
	}
	if cfg.Capture.JargonEnabled() {
		relayOpts = append(relayOpts, relay.WithCorrector(transcript.NewPhoneticCorrector(terms)))
	}
	if providers.STT != nil {
		relayOpts = append(relayOpts, relay.WithSTT(providers.STT, transcript.Keywords(terms)))
	}
	if a.telemetry != nil {
		relayOpts = append(relayOpts, relay.WithMetricsHandler(a.telemetry.MetricsHandler))
	}
	a.relay = relay.New(d, relayOpts...)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.relay.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// 5. Config hot reload
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.reloadInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.reloadInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// Handler returns the HTTP handler of the relay.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Relay returns the HTTP surface.
func (a *App) Relay() *relay.Server { return a.relay }

// Dispatcher returns the prompt dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Run serves the relay until ctx is cancelled or the server fails. It stops
// accepting connections before returning; call Shutdown to release the rest.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", ln.Addr().String())
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", ln.Addr().String())
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()
		return a.stopServing(shutdownCtx)
	})

	return g.Wait()
}

// stopServing closes the capture sockets, which the HTTP server does not
// track once upgraded, and then drains the remaining requests.
func (a *App) stopServing(ctx context.Context) error {
	if n := a.relay.Sessions().CloseAll("server shutting down"); n > 0 {
		slog.Info("closed capture sockets", "count", n)
	}
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: shutdown http server: %w", err)
	}
	return nil
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.stopServing(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// applyConfig hot-applies the parts of a reloaded config that can change
// while running.
func (a *App) applyConfig(r config.Reload) {
	d, cfg := r.Diff, r.New
	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DispatchChanged {
		a.dispatcher.SetConfig(dispatchConfig(cfg))
		slog.Info("dispatch settings reloaded", "models", cfg.Dispatch.Models, "timeout", cfg.Dispatch.Timeout)
	}
	if d.SilenceChanged {
		next := *a.captureCfg.Load()
		next.NormalSilence = cfg.Capture.NormalSilence
		next.WhisperSilence = cfg.Capture.WhisperSilence
		a.captureCfg.Store(&next)
		a.relay.Sessions().SetSilence(next.NormalSilence, next.WhisperSilence)
		slog.Info("silence windows reloaded", "normal", next.NormalSilence, "whisper", next.WhisperSilence)
	}
	if d.VoiceChanged {
		a.voice.Store(voiceProfile(cfg))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog level. Unknown values are
// treated as info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Models:      slices.Clone(cfg.Dispatch.Models),
		Timeout:     cfg.Dispatch.Timeout,
		Temperature: cfg.Dispatch.Temperature,
		MaxTokens:   cfg.Dispatch.MaxTokens,
	}
}

func captureConfig(cfg *config.Config) *capture.Config {
	return &capture.Config{
		PracticeLanguage: cfg.Capture.PracticeLanguage,
		WhisperLanguage:  cfg.Capture.WhisperLanguage,
		NormalSilence:    cfg.Capture.NormalSilence,
		WhisperSilence:   cfg.Capture.WhisperSilence,
		SampleRate:       cfg.Capture.SampleRate,
	}
}

func voiceProfile(cfg *config.Config) *relay.VoiceProfile {
	return &relay.VoiceProfile{
		Lang:   cfg.Voice.Lang,
		Rate:   cfg.Voice.Rate,
		Voices: slices.Clone(cfg.Voice.Voices),
	}
}

// loadVocabulary reads the jargon vocabulary at path, or returns the built-in
// one when path is empty.
func loadVocabulary(path string) ([]transcript.Term, error) {
	if path == "" {
		return transcript.DefaultVocabulary(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return transcript.LoadVocabulary(f)
}
