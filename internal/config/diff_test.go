package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/prophet/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.StreamingChanged || d.LanguageChanged || d.PacingChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_Playback(t *testing.T) {
	t.Parallel()
	off := false
	old := &config.Config{}
	new := &config.Config{Playback: config.PlaybackConfig{
		Streaming: &off,
		Language:  "Italiano",
		TurnPause: 3 * time.Second,
	}}

	d := config.Diff(old, new)
	if !d.StreamingChanged || d.NewStreaming {
		t.Errorf("streaming diff = %v/%v", d.StreamingChanged, d.NewStreaming)
	}
	if !d.LanguageChanged || d.NewLanguage != "Italiano" {
		t.Errorf("language diff = %v/%q", d.LanguageChanged, d.NewLanguage)
	}
	if !d.PacingChanged || d.NewTurnPause != 3*time.Second {
		t.Errorf("pacing diff = %v/%v", d.PacingChanged, d.NewTurnPause)
	}
}

func TestDiff_ExplicitEnglishEqualsDefault(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Playback: config.PlaybackConfig{Language: "English"}}
	if d := config.Diff(old, new); d.LanguageChanged {
		t.Error("empty and English language should compare equal")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}},
		Arena:     config.ArenaConfig{MaxTurns: 4},
		Playback:  config.PlaybackConfig{Player: config.PlayerConfig{Command: "mpv"}},
	}
	d := config.Diff(old, new)
	for _, want := range []string{"providers", "arena", "playback.player"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if slices.Contains(d.RestartRequired, "server") {
		t.Errorf("server should not require restart: %v", d.RestartRequired)
	}
}
