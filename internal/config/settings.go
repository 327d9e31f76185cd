package config

import "github.com/MrWong99/prophet/pkg/types"

// Settings exposes the values that components read once per call, so that a
// hot reload applies to the next request without rebuilding anything. It
// satisfies the settings contracts of the converse and speech packages.
type Settings struct {
	current func() *Config
}

// NewSettings returns Settings reading from current, typically
// [Watcher.Current].
func NewSettings(current func() *Config) *Settings {
	return &Settings{current: current}
}

// StaticSettings returns Settings over a fixed config.
func StaticSettings(cfg *Config) *Settings {
	return NewSettings(func() *Config { return cfg })
}

func (s *Settings) cfg() *Config {
	if c := s.current(); c != nil {
		return c
	}
	return &Config{}
}

// Streaming reports whether streaming synthesis is enabled.
func (s *Settings) Streaming() bool { return s.cfg().Playback.StreamingEnabled() }

// Language returns the reply language.
func (s *Settings) Language() string { return s.cfg().Playback.LanguageOrDefault() }

// LLMKey returns a key source for the primary LLM provider.
func (s *Settings) LLMKey() types.KeySource {
	return func() string { return s.cfg().Providers.LLM.ResolveAPIKey() }
}

// TTSKey returns a key source for the primary TTS provider.
func (s *Settings) TTSKey() types.KeySource {
	return func() string { return s.cfg().Providers.TTS.ResolveAPIKey() }
}
