package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/resilience"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	"github.com/MrWong99/prophet/pkg/provider/llm/anyllm"
	"github.com/MrWong99/prophet/pkg/provider/llm/openai"
	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/prophet/pkg/types"
)

// builtinProviders maps provider kinds to the implementations that ship with
// prophet. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// API keys are looked up in the config returned by current on every request,
// so a rotated key in the config file or environment applies without a
// restart.
func registerBuiltinProviders(reg *config.Registry, current func() *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// The native OpenAI client supports organizations and request timeouts.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithKeySource(keySource(current, entry))}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if raw := entry.OptionString("timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("openai: invalid timeout %q: %w", raw, err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New("", entry.Model, opts...)
	})

	// Every other backend goes through any-llm. Local servers (ollama,
	// llamacpp, llamafile) need no key.
	for _, providerName := range anyllm.Supported {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			opts := []anyllm.Option{anyllm.WithKeySource(keySource(current, entry))}
			if entry.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
			}
			model := entry.Model
			if model == "" {
				model = config.DefaultLLMModel
			}
			return anyllm.New(providerName, model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithKeySource(keySource(current, entry))}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if transport := entry.OptionString("transport"); transport != "" {
			opts = append(opts, elevenlabs.WithTransport(elevenlabs.Transport(transport)))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New("", opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// keySource resolves the API key of the live config entry matching entry by
// name and model, falling back to entry itself when the live config no longer
// contains it.
func keySource(current func() *config.Config, entry config.ProviderEntry) types.KeySource {
	return func() string {
		if cfg := current(); cfg != nil {
			for _, e := range providerEntries(cfg) {
				if e.Name == entry.Name && e.Model == entry.Model {
					return e.ResolveAPIKey()
				}
			}
		}
		return entry.ResolveAPIKey()
	}
}

func providerEntries(cfg *config.Config) []config.ProviderEntry {
	entries := []config.ProviderEntry{cfg.Providers.LLM}
	entries = append(entries, cfg.Providers.LLMFallbacks...)
	entries = append(entries, cfg.Providers.TTS)
	return append(entries, cfg.Providers.TTSFallbacks...)
}

// buildProviders instantiates the providers named in cfg using the registry.
// When fallbacks are configured the primary is wrapped in a failover group
// with one circuit breaker per backend.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{
		LLMName: cfg.Providers.LLM.Name,
		TTSName: cfg.Providers.TTS.Name,
	}

	primaryLLM, err := createProvider("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = primaryLLM
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, breakerConfig("llm"))
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := createProvider("llm fallback", entry, reg.CreateLLM)
			if err != nil {
				return nil, err
			}
			group.AddFallback(entry.Name, p)
		}
		ps.LLM = group
	}

	primaryTTS, err := createProvider("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = primaryTTS
	if len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, breakerConfig("tts"))
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := createProvider("tts fallback", entry, reg.CreateTTS)
			if err != nil {
				return nil, err
			}
			group.AddFallback(entry.Name, p)
		}
		ps.TTS = group
	}

	return ps, nil
}

func createProvider[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, fmt.Errorf("no %s provider configured", kind)
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return zero, fmt.Errorf("%s provider %q is not built in (available: %v)", kind, entry.Name, builtinProviders[kindKey(kind)])
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

func kindKey(kind string) string {
	if len(kind) >= 3 {
		return kind[:3]
	}
	return kind
}

// breakerConfig counts every breaker transition in the provider metrics.
// Each breaker is named after its backend by the fallback group.
func breakerConfig(kind string) resilience.FallbackConfig {
	metrics := observe.DefaultMetrics()
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), kind+"/"+name, to.String())
			},
		},
	}
}
