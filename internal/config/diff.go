package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Log level and
// playback settings apply without a restart; provider and storage changes
// only take effect on the next start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StreamingChanged bool
	NewStreaming     bool

	LanguageChanged bool
	NewLanguage     string

	PacingChanged bool
	NewTurnPause  time.Duration
	NewSeedPause  time.Duration

	// RestartRequired lists the top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.StreamingEnabled() != new.Playback.StreamingEnabled() {
		d.StreamingChanged = true
		d.NewStreaming = new.Playback.StreamingEnabled()
	}
	if old.Playback.LanguageOrDefault() != new.Playback.LanguageOrDefault() {
		d.LanguageChanged = true
		d.NewLanguage = new.Playback.LanguageOrDefault()
	}
	if old.Playback.TurnPause != new.Playback.TurnPause || old.Playback.SeedPause != new.Playback.SeedPause {
		d.PacingChanged = true
		d.NewTurnPause = new.Playback.TurnPause
		d.NewSeedPause = new.Playback.SeedPause
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Converse, new.Converse) {
		d.RestartRequired = append(d.RestartRequired, "converse")
	}
	if !reflect.DeepEqual(old.Playback.Player, new.Playback.Player) {
		d.RestartRequired = append(d.RestartRequired, "playback.player")
	}
	if old.Personas != new.Personas {
		d.RestartRequired = append(d.RestartRequired, "personas")
	}
	if old.Arena != new.Arena {
		d.RestartRequired = append(d.RestartRequired, "arena")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	return d
}
