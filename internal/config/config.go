// Package config provides the configuration schema, loader, and provider registry
// for the Sloane practice relay.
package config

import "time"

// LogLevel controls log verbosity for the Sloane server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Sloane.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Capture   CaptureConfig   `yaml:"capture"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`

	// Scenarios is an optional path to a scenario catalog YAML file. When
	// empty, the built-in catalog is used.
	Scenarios string `yaml:"scenarios"`
}

// ServerConfig holds network and logging settings for the Sloane server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins lists the browser origins allowed to call the API.
	// Empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// ChatRateLimit caps POST /api/chat requests per client IP per minute.
	// Zero disables the limiter.
	ChatRateLimit int `yaml:"chat_rate_limit"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DispatchConfig tunes prompt dispatch.
type DispatchConfig struct {
	// Models is the ordered fallback chain. The first entry is tried first.
	Models []string `yaml:"models"`

	// Timeout bounds each model attempt (e.g., "10s").
	Timeout time.Duration `yaml:"timeout"`

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// CaptureConfig tunes speech capture and segmentation.
type CaptureConfig struct {
	// PracticeLanguage is the BCP-47 tag of the normal recognition context.
	PracticeLanguage string `yaml:"practice_language"`

	// WhisperLanguage is the BCP-47 tag of the whisper recognition context.
	WhisperLanguage string `yaml:"whisper_language"`

	// NormalSilence is the silence window that commits a practice utterance.
	NormalSilence time.Duration `yaml:"normal_silence"`

	// WhisperSilence is the silence window that commits a whisper utterance.
	WhisperSilence time.Duration `yaml:"whisper_silence"`

	// SampleRate is the PCM sample rate of audio frames sent for server-side
	// recognition.
	SampleRate int `yaml:"sample_rate"`

	// CorrectJargon enables phonetic correction of startup vocabulary in
	// practice-language transcripts.
	CorrectJargon *bool `yaml:"correct_jargon"`

	// Vocabulary is an optional path to a jargon vocabulary YAML file. When
	// empty, the built-in vocabulary is used.
	Vocabulary string `yaml:"vocabulary"`
}

// JargonEnabled reports whether jargon correction is on. It defaults to true.
func (c CaptureConfig) JargonEnabled() bool {
	return c.CorrectJargon == nil || *c.CorrectJargon
}

// VoiceConfig is the speech-synthesis profile handed to browser clients.
type VoiceConfig struct {
	// Lang is the synthesis language tag.
	Lang string `yaml:"lang" json:"lang"`

	// Rate is the speaking rate. 1.0 means normal speed.
	Rate float64 `yaml:"rate" json:"rate"`

	// Voices lists preferred voice names in order.
	Voices []string `yaml:"voices" json:"voices"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. When
	// empty, the provider's environment variable is consulted by [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	// LLM models are configured through [DispatchConfig.Models] instead.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptString extracts a string value from Options.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func (e ProviderEntry) OptString(key string) string {
	if e.Options == nil {
		return ""
	}
	s, _ := e.Options[key].(string)
	return s
}
