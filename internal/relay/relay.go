// Package relay is the HTTP surface of Sloane.
//
// It exposes the stateless chat endpoint that turns one message into one
// persona reply, the scenario catalog, the browser voice profile, and the
// capture socket: a WebSocket per practice session that carries recognition
// events in and utterances, replies and failures out.
//
// Routes:
//
//	POST /api/chat      one dispatch per request
//	GET  /api/levels    scenario catalog
//	GET  /api/voice     speech-synthesis profile
//	GET  /api/capture   capture socket
//	GET  /healthz       liveness
//	GET  /readyz        readiness
//	GET  /metrics       Prometheus exposition
package relay

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/health"
	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/internal/persona"
	"github.com/MrWong99/sloane/pkg/provider/stt"
	"github.com/MrWong99/sloane/pkg/types"
)

// rateWindow is the window of the per-IP chat rate limit.
const rateWindow = time.Minute

// Dispatcher turns one utterance into one completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, u types.Utterance) dispatch.Completion
}

// VoiceProfile tells the browser how to speak replies.
type VoiceProfile struct {
	Lang   string   `json:"lang"`
	Rate   float64  `json:"rate"`
	Voices []string `json:"voices"`
}

// DefaultVoice is the profile served when none is configured.
func DefaultVoice() VoiceProfile {
	return VoiceProfile{
		Lang:   "en-US",
		Rate:   1.1,
		Voices: []string{"Google US English", "Samantha"},
	}
}

// Option is a functional option for [New].
type Option func(*Server)

// WithCatalog sets the scenario catalog. Defaults to [persona.DefaultCatalog].
func WithCatalog(c *persona.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithVoice sets the function that reports the current voice profile.
func WithVoice(fn func() VoiceProfile) Option {
	return func(s *Server) { s.voice = fn }
}

// WithCaptureConfig sets the function that reports the recognition settings
// for newly opened capture sockets.
func WithCaptureConfig(fn func() capture.Config) Option {
	return func(s *Server) { s.captureCfg = fn }
}

// WithSTT enables server-side recognition of binary audio frames.
func WithSTT(p stt.Provider, keywords []string) Option {
	return func(s *Server) {
		s.stt = p
		s.keywords = keywords
	}
}

// WithCorrector sets the jargon corrector applied to practice transcripts.
func WithCorrector(c capture.Corrector) Option {
	return func(s *Server) { s.corrector = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts the health probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithCORSOrigins restricts the allowed browser origins. Empty allows any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithChatRateLimit caps POST /api/chat at n requests per client IP per
// minute. Zero disables the limit.
func WithChatRateLimit(n int) Option {
	return func(s *Server) { s.chatLimit = n }
}

// Server holds the dependencies of the HTTP surface.
type Server struct {
	dispatcher     Dispatcher
	catalog        *persona.Catalog
	voice          func() VoiceProfile
	captureCfg     func() capture.Config
	stt            stt.Provider
	keywords       []string
	corrector      capture.Corrector
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	origins        []string
	chatLimit      int
	sessions       *Sessions
}

// New creates a Server dispatching through d.
func New(d Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: d}
	for _, o := range opts {
		o(s)
	}
	if s.catalog == nil {
		s.catalog = persona.DefaultCatalog()
	}
	if s.voice == nil {
		s.voice = DefaultVoice
	}
	if s.captureCfg == nil {
		s.captureCfg = func() capture.Config { return capture.Config{} }
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.sessions = NewSessions(s.metrics)
	return s
}

// Sessions returns the registry of open capture sockets.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "traceparent", "tracestate"},
		ExposedHeaders: []string{"Retry-After", "X-Correlation-ID"},
		MaxAge:         300,
	}))
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Routes(r)
	}
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(s.chatLimiter()...).Post("/chat", s.handleChat)
		r.Get("/levels", s.handleLevels)
		r.Get("/voice", s.handleVoice)
		r.Get("/capture", s.handleCapture)
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

func (s *Server) chatLimiter() []func(http.Handler) http.Handler {
	if s.chatLimit <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{
		httprate.Limit(s.chatLimit, rateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				retry := rateWindow
				if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil && v > 0 {
					retry = time.Duration(v) * time.Second
				}
				observe.Logger(r.Context()).Warn("chat rate limit hit", "remote", r.RemoteAddr)
				writeError(w, &dispatch.Error{
					Kind:       dispatch.KindRateLimited,
					Message:    "too many requests from this client",
					RetryAfter: retry,
				})
			}),
		),
	}
}
