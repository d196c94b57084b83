package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/internal/dispatch"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
}

// EnvKeys maps a provider name to the environment variables that may hold its
// API key, in lookup order.
var EnvKeys = map[string][]string{
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_API_KEY"},
	"mistral":   {"MISTRAL_API_KEY"},
	"groq":      {"GROQ_API_KEY"},
	"deepgram":  {"DEEPGRAM_API_KEY"},
}

// Defaults for the voice profile handed to browser clients.
const (
	DefaultListenAddr = ":8080"
	DefaultVoiceLang  = "en-US"
	DefaultVoiceRate  = 1.1
	DefaultLLM        = "gemini"
)

// DefaultVoices are the preferred synthesis voices, in order.
var DefaultVoices = []string{"Google US English", "Samantha"}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with provider credentials filled in from the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// parse decodes, validates and injects environment credentials. Shared by
// [Load] and the [Watcher].
func parse(data []byte) (*Config, error) {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. It does not consult the environment, so tests get the same
// result on every machine. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if len(cfg.Dispatch.Models) == 0 {
		cfg.Dispatch.Models = slices.Clone(dispatch.DefaultModels)
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = dispatch.DefaultTimeout
	}

	if cfg.Capture.PracticeLanguage == "" {
		cfg.Capture.PracticeLanguage = capture.DefaultPracticeLanguage
	}
	if cfg.Capture.WhisperLanguage == "" {
		cfg.Capture.WhisperLanguage = capture.DefaultWhisperLanguage
	}
	if cfg.Capture.NormalSilence == 0 {
		cfg.Capture.NormalSilence = capture.DefaultNormalSilence
	}
	if cfg.Capture.WhisperSilence == 0 {
		cfg.Capture.WhisperSilence = capture.DefaultWhisperSilence
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = capture.DefaultSampleRate
	}

	if cfg.Voice.Lang == "" {
		cfg.Voice.Lang = DefaultVoiceLang
	}
	if cfg.Voice.Rate == 0 {
		cfg.Voice.Rate = DefaultVoiceRate
	}
	if len(cfg.Voice.Voices) == 0 {
		cfg.Voice.Voices = slices.Clone(DefaultVoices)
	}

	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLM
	}
}

// ApplyEnv fills empty provider API keys from the environment variables
// listed in [EnvKeys]. Keys set in the YAML file win. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" || e.Name == "" {
			return
		}
		for _, key := range EnvKeys[e.Name] {
			if v, ok := lookup(key); ok && v != "" {
				e.APIKey = v
				return
			}
		}
	}
	fill(&cfg.Providers.LLM)
	fill(&cfg.Providers.STT)
}

// LoadDotEnv loads environment variables from the given .env files. Files
// that do not exist are skipped; variables already set in the process win.
// With no arguments it loads ".env".
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var errs []error
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			slog.Debug("loaded env file", "path", f)
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		errs = append(errs, fmt.Errorf("config: load env %q: %w", f, err))
	}
	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ChatRateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.chat_rate_limit %d must not be negative", cfg.Server.ChatRateLimit))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Dispatch
	seen := make(map[string]int, len(cfg.Dispatch.Models))
	for i, m := range cfg.Dispatch.Models {
		if m == "" {
			errs = append(errs, fmt.Errorf("dispatch.models[%d] is empty", i))
			continue
		}
		if prev, ok := seen[m]; ok {
			errs = append(errs, fmt.Errorf("dispatch.models[%d] %q is a duplicate of dispatch.models[%d]", i, m, prev))
		}
		seen[m] = i
	}
	if cfg.Dispatch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout %s must not be negative", cfg.Dispatch.Timeout))
	}
	if cfg.Dispatch.Temperature < 0 || cfg.Dispatch.Temperature > 2 {
		errs = append(errs, fmt.Errorf("dispatch.temperature %.2f is out of range [0, 2]", cfg.Dispatch.Temperature))
	}
	if cfg.Dispatch.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_tokens %d must not be negative", cfg.Dispatch.MaxTokens))
	}

	// Capture
	if cfg.Capture.NormalSilence < 0 {
		errs = append(errs, fmt.Errorf("capture.normal_silence %s must not be negative", cfg.Capture.NormalSilence))
	}
	if cfg.Capture.WhisperSilence < 0 {
		errs = append(errs, fmt.Errorf("capture.whisper_silence %s must not be negative", cfg.Capture.WhisperSilence))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.PracticeLanguage != "" && cfg.Capture.PracticeLanguage == cfg.Capture.WhisperLanguage {
		errs = append(errs, fmt.Errorf("capture.whisper_language %q must differ from capture.practice_language", cfg.Capture.WhisperLanguage))
	}

	// Voice
	if cfg.Voice.Rate != 0 && (cfg.Voice.Rate < 0.1 || cfg.Voice.Rate > 10) {
		errs = append(errs, fmt.Errorf("voice.rate %.2f is out of range [0.1, 10]", cfg.Voice.Rate))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
