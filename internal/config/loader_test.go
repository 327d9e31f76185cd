package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/prophet/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	temp := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{
			name: "valid minimal",
			cfg:  config.Config{},
		},
		{
			name:    "bad log level",
			cfg:     config.Config{Server: config.ServerConfig{LogLevel: "loud"}},
			wantErr: "server.log_level",
		},
		{
			name:    "half tls",
			cfg:     config.Config{Server: config.ServerConfig{TLS: &config.TLSConfig{CertFile: "c.pem"}}},
			wantErr: "server.tls",
		},
		{
			name:    "temperature out of range",
			cfg:     config.Config{Converse: config.ConverseConfig{Temperature: temp(2.5)}},
			wantErr: "converse.temperature",
		},
		{
			name:    "negative turn pause",
			cfg:     config.Config{Playback: config.PlaybackConfig{TurnPause: -1}},
			wantErr: "playback.turn_pause",
		},
		{
			name:    "negative max turns",
			cfg:     config.Config{Arena: config.ArenaConfig{MaxTurns: -2}},
			wantErr: "arena.max_turns",
		},
		{
			name:    "same personas",
			cfg:     config.Config{Arena: config.ArenaConfig{PersonaA: "Plato", PersonaB: "Plato"}},
			wantErr: "must differ",
		},
		{
			name: "fallback without primary",
			cfg: config.Config{Providers: config.ProvidersConfig{
				TTSFallbacks: []config.ProviderEntry{{Name: "elevenlabs"}},
			}},
			wantErr: "providers.tts_fallbacks requires providers.tts",
		},
		{
			name: "unnamed fallback",
			cfg: config.Config{Providers: config.ProvidersConfig{
				LLM:          config.ProviderEntry{Name: "openai"},
				LLMFallbacks: []config.ProviderEntry{{Model: "x"}},
			}},
			wantErr: "providers.llm_fallbacks[0].name",
		},
		{
			name:    "sample ratio above one",
			cfg:     config.Config{Telemetry: config.TelemetryConfig{TraceSampleRatio: temp(1.5)}},
			wantErr: "telemetry.trace_sample_ratio",
		},
		{
			name: "sample ratio zero",
			cfg:  config.Config{Telemetry: config.TelemetryConfig{TraceSampleRatio: temp(0)}},
		},
		{
			name: "unknown language only warns",
			cfg:  config.Config{Playback: config.PlaybackConfig{Language: "Klingon"}},
		},
		{
			name: "unknown provider only warns",
			cfg:  config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "my-llm"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := config.Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Arena:  config.ArenaConfig{MaxTurns: -1},
	}
	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "arena.max_turns"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestTelemetryConfig_SampleRatio(t *testing.T) {
	t.Parallel()
	if got := (config.TelemetryConfig{}).SampleRatio(); got != 1 {
		t.Errorf("unset SampleRatio() = %v, want 1", got)
	}
	r := 0.25
	if got := (config.TelemetryConfig{TraceSampleRatio: &r}).SampleRatio(); got != 0.25 {
		t.Errorf("SampleRatio() = %v, want 0.25", got)
	}
}
