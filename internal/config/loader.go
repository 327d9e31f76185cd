package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/prophet/internal/converse"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero Config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; personas will not be able to reply")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will not be spoken")
	}

	if t := cfg.Converse.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("converse.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Converse.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("converse.max_tokens %d must not be negative", cfg.Converse.MaxTokens))
	}

	if lang := cfg.Playback.Language; lang != "" && !converse.IsKnownLanguage(lang) {
		slog.Warn("playback.language is not one of the offered languages; it is used as given",
			"language", lang,
			"known", converse.Languages,
		)
	}
	if cfg.Playback.TurnPause < 0 {
		errs = append(errs, fmt.Errorf("playback.turn_pause %s must not be negative", cfg.Playback.TurnPause))
	}
	if cfg.Playback.SeedPause < 0 {
		errs = append(errs, fmt.Errorf("playback.seed_pause %s must not be negative", cfg.Playback.SeedPause))
	}

	if cfg.Arena.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("arena.max_turns %d must not be negative", cfg.Arena.MaxTurns))
	}
	if a, b := cfg.Arena.PersonaA, cfg.Arena.PersonaB; a != "" && a == b {
		errs = append(errs, fmt.Errorf("arena.persona_a and arena.persona_b must differ, both are %q", a))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", *r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
