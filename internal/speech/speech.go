// Package speech turns a persona's reply into audible speech.
//
// A [Speaker] owns the two playback queues. In streaming mode the reply is
// segmented, every chunk is synthesized with a streaming request and queued
// as soon as its audio has arrived, so the first sentence plays while later
// ones are still being rendered. In whole-utterance mode the reply is
// synthesized in one request and played as a single clip.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/audio"
	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/sentence"
	"github.com/MrWong99/prophet/pkg/types"
)

// Settings is consulted once per Speak call.
type Settings interface {
	Streaming() bool
}

// StaticSettings is a fixed [Settings] value.
type StaticSettings bool

// Streaming implements [Settings].
func (s StaticSettings) Streaming() bool { return bool(s) }

// Option configures a Speaker.
type Option func(*Speaker)

// WithSettings sets the settings source. Defaults to streaming.
func WithSettings(s Settings) Option {
	return func(sp *Speaker) { sp.settings = s }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(sp *Speaker) { sp.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(sp *Speaker) { sp.metrics = m }
}

// Speaker synthesizes and plays replies. Speak calls are serialized; Stop may
// be called from any goroutine at any time.
type Speaker struct {
	tts          tts.Provider
	settings     Settings
	providerName string
	metrics      *observe.Metrics

	queue *audio.Queue
	clips *audio.ClipQueue

	speakMu sync.Mutex
}

// New creates a Speaker that synthesizes with provider and plays through
// player. Call [Speaker.Close] to release the playback goroutines.
func New(provider tts.Provider, player audio.Player, opts ...Option) *Speaker {
	s := &Speaker{
		tts:          provider,
		settings:     StaticSettings(true),
		providerName: "tts",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	observer := audio.WithPlaybackObserver(func(d time.Duration, err error) {
		if err == nil {
			s.metrics.RecordPlayback(context.Background(), d)
		}
	})
	s.queue = audio.NewQueue(player, observer)
	s.clips = audio.NewClipQueue(player, observer)
	return s
}

// Speak synthesizes text with p's voice and blocks until it has been played,
// synthesis failed, or ctx is cancelled. Cancelling ctx halts playback
// immediately. Text without speakable content returns nil at once.
func (s *Speaker) Speak(ctx context.Context, text string, p persona.Persona) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.speakMu.Lock()
	defer s.speakMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("speech: %w", err)
	}
	ctx, span := observe.StartSpan(ctx, "speech.speak")
	defer span.End()

	var err error
	if s.settings.Streaming() {
		err = s.speakStreaming(ctx, text, p)
	} else {
		err = s.speakWhole(ctx, text, p)
	}
	if err != nil {
		return fmt.Errorf("speech: %w", err)
	}
	return nil
}

func (s *Speaker) speakStreaming(ctx context.Context, text string, p persona.Persona) error {
	chunks := sentence.Segment(text)
	if len(chunks) == 0 {
		return nil
	}

	// Cancellation stops the queue on this goroutine, before the next Speak
	// can start a new cycle.
	s.queue.Start(nil)

	voice := p.Voice()
	for i, chunk := range chunks {
		data, err := s.synthesizeChunk(ctx, chunk, voice)
		if err != nil {
			s.queue.Stop()
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if len(data) == 0 {
			continue
		}
		s.queue.Enqueue(audio.Chunk{Data: data, Speed: p.PlaybackSpeed()})
	}
	s.queue.MarkNoMoreChunks()

	if err := s.queue.Wait(ctx); err != nil {
		s.queue.Stop()
		return err
	}
	return ctx.Err()
}

// synthesizeChunk streams one chunk and returns the audio that arrived.
func (s *Speaker) synthesizeChunk(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	var data []byte
	err := s.timed(ctx, "speech.synthesize_stream", func(ctx context.Context) error {
		stream, err := s.tts.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return err
		}
		data, err = stream.Collect()
		return err
	})
	return data, err
}

func (s *Speaker) speakWhole(ctx context.Context, text string, p persona.Persona) error {
	var data []byte
	err := s.timed(ctx, "speech.synthesize", func(ctx context.Context) error {
		var err error
		data, err = s.tts.Synthesize(ctx, text, p.Voice())
		return err
	})
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return apierr.ErrEmptyResponse
	}

	done := make(chan struct{})
	s.clips.PlayAudio(data, p.PlaybackSpeed(), func() { close(done) })
	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		s.clips.StopAll()
		return ctx.Err()
	}
}

// timed runs fn under the TTS duration histogram and records the request
// outcome.
func (s *Speaker) timed(ctx context.Context, name string, fn func(context.Context) error) error {
	err := observe.Timed(ctx, s.metrics.TTSDuration, name, fn, observe.Attr("provider", s.providerName))
	s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", apierr.Kind(err))
	if err != nil && !apierr.IsCancellation(err) {
		s.metrics.RecordProviderError(ctx, s.providerName, "tts")
		observe.Logger(ctx).Warn("speech: synthesis failed", "err", err)
	}
	return err
}

// Stop halts whatever is playing on either queue. It is idempotent.
func (s *Speaker) Stop() {
	s.queue.Stop()
	s.clips.StopAll()
}

// Playing reports whether audio is playing or pending.
func (s *Speaker) Playing() bool {
	return s.queue.State() == audio.StatePlaying || s.clips.Playing()
}

// Close stops playback and releases the playback goroutines.
func (s *Speaker) Close() error {
	err := s.queue.Close()
	if cerr := s.clips.Close(); err == nil {
		err = cerr
	}
	return err
}
