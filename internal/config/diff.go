package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Fields that can be hot-reloaded are tracked individually; anything else
// that changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DispatchChanged is true if models, timeout, temperature or max_tokens
	// changed.
	DispatchChanged bool

	// SilenceChanged is true if either silence window changed. New windows
	// apply to captures opened after the reload and to live ones.
	SilenceChanged bool

	// VoiceChanged is true if the browser synthesis profile changed.
	VoiceChanged bool

	// RestartRequired names the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DispatchChanged && !d.SilenceChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	od, nd := old.Dispatch, new.Dispatch
	if !slices.Equal(od.Models, nd.Models) || od.Timeout != nd.Timeout ||
		od.Temperature != nd.Temperature || od.MaxTokens != nd.MaxTokens {
		d.DispatchChanged = true
	}

	oc, nc := old.Capture, new.Capture
	if oc.NormalSilence != nc.NormalSilence || oc.WhisperSilence != nc.WhisperSilence {
		d.SilenceChanged = true
	}
	if oc.PracticeLanguage != nc.PracticeLanguage || oc.WhisperLanguage != nc.WhisperLanguage ||
		oc.SampleRate != nc.SampleRate || oc.JargonEnabled() != nc.JargonEnabled() || oc.Vocabulary != nc.Vocabulary {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}

	if old.Voice.Lang != new.Voice.Lang || old.Voice.Rate != new.Voice.Rate ||
		!slices.Equal(old.Voice.Voices, new.Voice.Voices) {
		d.VoiceChanged = true
	}

	oldSrv, newSrv := old.Server, new.Server
	if oldSrv.ListenAddr != newSrv.ListenAddr || oldSrv.ChatRateLimit != newSrv.ChatRateLimit ||
		!slices.Equal(oldSrv.CORSOrigins, newSrv.CORSOrigins) || !tlsEqual(oldSrv.TLS, newSrv.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !entryEqual(old.Providers.LLM, new.Providers.LLM) || !entryEqual(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Scenarios != new.Scenarios {
		d.RestartRequired = append(d.RestartRequired, "scenarios")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual compares the fields that select and authenticate a provider.
// Options are not compared.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
