// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and offers
// two entry points: Synthesize returns the complete encoded clip for a piece of
// text, while SynthesizeStream hands audio buffers to the caller through a
// [Stream] as soon as the backend produces them. The speech pipeline uses the
// streaming form sentence by sentence so playback can start before the whole
// reply has been rendered.
//
// Errors are classified with the sentinels in package apierr.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/prophet/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the encoded audio once the
	// backend has finished. The API key is looked up for every call.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// SynthesizeStream starts a streaming request for text. A non-nil error is
	// returned when the request could not be started: a missing credential, an
	// invalid endpoint, or a non-2xx status. Afterwards audio buffers arrive on
	// Stream.Audio in arrival order and Stream.Err reports failures that happen
	// mid-stream.
	//
	// The stream is finished by the implementation when the backend is done or
	// ctx is cancelled. Callers must drain Stream.Audio.
	SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile) (*Stream, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
