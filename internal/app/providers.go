package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sloane/internal/config"
	"github.com/MrWong99/sloane/pkg/provider/llm"
	"github.com/MrWong99/sloane/pkg/provider/llm/anyllm"
	"github.com/MrWong99/sloane/pkg/provider/llm/gemini"
	"github.com/MrWong99/sloane/pkg/provider/llm/openai"
	"github.com/MrWong99/sloane/pkg/provider/stt"
	"github.com/MrWong99/sloane/pkg/provider/stt/deepgram"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
}

// keylessBackends are any-llm backends that talk to a local server and need
// no API key.
var keylessBackends = map[string]bool{"ollama": true, "llamacpp": true, "llamafile": true}

// RegisterBuiltinProviders wires every provider factory that ships with Sloane
// into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// gemini and openai use their native SDKs, which accept an empty key and
	// report it through HasCredential.
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if v := entry.OptString("api_version"); v != "" {
			opts = append(opts, gemini.WithAPIVersion(v))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	for _, name := range []string{"anthropic", "deepseek", "mistral", "groq", "ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			if entry.APIKey == "" && !keylessBackends[name] {
				return &unconfigured{name: name}, nil
			}
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// BuildProviders instantiates the providers named in cfg using reg. The text
// provider is required; server-side recognition is optional and is skipped
// when it has no key, since browsers can recognise speech themselves.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	p, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if name := cfg.Providers.STT.Name; name != "" {
		switch {
		case cfg.Providers.STT.APIKey == "":
			slog.Warn("stt provider has no API key, server-side recognition disabled", "name", name)
		default:
			p, err := reg.CreateSTT(cfg.Providers.STT)
			if errors.Is(err, config.ErrProviderNotRegistered) {
				slog.Warn("unknown stt provider, server-side recognition disabled", "name", name)
			} else if err != nil {
				return nil, fmt.Errorf("create stt provider %q: %w", name, err)
			} else {
				ps.STT = p
				slog.Info("provider created", "kind", "stt", "name", name)
			}
		}
	}

	return ps, nil
}

// unconfigured stands in for a keyed backend started without a key, so the
// relay still serves and every dispatch fails as a missing credential.
type unconfigured struct {
	name string
}

func (u *unconfigured) Name() string { return u.name }

func (u *unconfigured) HasCredential() bool { return false }

func (u *unconfigured) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	return nil, &llm.Error{
		Kind:     llm.KindMissingCredential,
		Provider: u.name,
		Model:    req.Model,
		Message:  "no API key configured",
	}
}
