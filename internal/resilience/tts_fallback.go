package resilience

import (
	"context"

	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// Check reports whether at least one backend is available. See
// [FallbackGroup.Check].
func (f *TTSFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }

// Status returns the breaker state of each backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize returns the whole clip from the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// SynthesizeStream opens a stream on the first healthy provider. Only the
// initial request is covered by failover; errors reported later through
// [tts.Stream.Err] are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Stream, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
