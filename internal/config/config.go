// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the Prophet server.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel controls log verbosity for the Prophet server.
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

// SlogLevel converts l to a [slog.Level]. Empty and unknown values map to
// [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied when the corresponding config value is zero.
const (
	DefaultListenAddr  = ":8080"
	DefaultLLMModel    = "gpt-4o"
	DefaultTemperature = 1.0
	DefaultTurnPause   = time.Second
	DefaultSeedPause   = 500 * time.Millisecond
	DefaultLanguage    = "English"
)

// Config is the root configuration structure for Prophet.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Converse  ConverseConfig  `yaml:"converse"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Personas  PersonasConfig  `yaml:"personas"`
	Arena     ArenaConfig     `yaml:"arena"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// Addr returns ListenAddr or [DefaultListenAddr].
func (s ServerConfig) Addr() string {
	if s.ListenAddr == "" {
		return DefaultListenAddr
	}
	return s.ListenAddr
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the language-model and text-to-speech backends.
// Each entry selects a named provider registered in the [Registry]. Fallback
// entries are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key. It takes precedence over APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the key. When empty the
	// provider's conventional variable is used (see [DefaultAPIKeyEnv]).
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above, such as the
	// ElevenLabs "transport".
	Options map[string]any `yaml:"options"`
}

// DefaultAPIKeyEnv maps provider names to the environment variable consulted
// when neither api_key nor api_key_env is set.
var DefaultAPIKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// ResolveAPIKey returns the explicit api_key, or else the value of the
// configured (or conventional) environment variable. It returns "" when no key
// is available.
func (e ProviderEntry) ResolveAPIKey() string {
	if k := strings.TrimSpace(e.APIKey); k != "" {
		return k
	}
	env := e.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv[e.Name]
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

// OptionString returns Options[key] as a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// ConverseConfig tunes language-model requests.
type ConverseConfig struct {
	// Temperature in [0, 2]. Nil means [DefaultTemperature].
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps reply length. Zero means no cap.
	MaxTokens int `yaml:"max_tokens"`
}

// TemperatureOrDefault returns Temperature or [DefaultTemperature].
func (c ConverseConfig) TemperatureOrDefault() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// PlaybackConfig holds the speech and pacing settings. Streaming and Language
// are read per call and so follow hot reloads.
type PlaybackConfig struct {
	// Streaming selects sentence-by-sentence streaming synthesis. Nil means true.
	Streaming *bool `yaml:"streaming"`

	// Language is the reply language by its own name (e.g., "Deutsch").
	Language string `yaml:"language"`

	// TurnPause is waited between arena turns. Zero means [DefaultTurnPause].
	TurnPause time.Duration `yaml:"turn_pause"`

	// SeedPause is waited before the first answer to the seed reply. Zero
	// means [DefaultSeedPause].
	SeedPause time.Duration `yaml:"seed_pause"`

	// Player configures the external audio player process.
	Player PlayerConfig `yaml:"player"`
}

// StreamingEnabled returns Streaming, defaulting to true.
func (p PlaybackConfig) StreamingEnabled() bool {
	return p.Streaming == nil || *p.Streaming
}

// LanguageOrDefault returns Language or [DefaultLanguage].
func (p PlaybackConfig) LanguageOrDefault() string {
	if l := strings.TrimSpace(p.Language); l != "" {
		return l
	}
	return DefaultLanguage
}

// PlayerConfig selects the command that plays audio clips. An empty Command
// uses ffplay.
type PlayerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// PersonasConfig locates the persona registry.
type PersonasConfig struct {
	// Bootstrap is a prophets.json file used to seed an empty registry.
	Bootstrap string `yaml:"bootstrap"`

	// PostgresDSN, when set, persists personas in PostgreSQL instead of memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ArenaConfig holds the defaults of the arena mode.
type ArenaConfig struct {
	// PersonaA and PersonaB name the participants (ID or fuzzy name). When
	// empty, the first two personas of the registry are used.
	PersonaA string `yaml:"persona_a"`
	PersonaB string `yaml:"persona_b"`

	// MaxTurns ends a conversation after that many turns. Zero is unbounded.
	MaxTurns int `yaml:"max_turns"`
}

// ArchiveConfig enables the conversation archive.
type ArchiveConfig struct {
	// PostgresDSN, when set, stores finished conversations in PostgreSQL.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TelemetryConfig describes how the process reports itself to OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName overrides the reported service.name ("prophet").
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of root traces kept, in [0, 1].
	// Unset keeps every trace.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// SampleRatio returns TraceSampleRatio or 1.
func (t TelemetryConfig) SampleRatio() float64 {
	if t.TraceSampleRatio == nil {
		return 1
	}
	return *t.TraceSampleRatio
}
