// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify that the
// correct VoiceProfile and text are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks:     [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	stream, _ := p.SynthesizeStream(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize or SynthesizeStream.
type SynthesizeCall struct {
	// Ctx is the context passed to the call.
	Ctx context.Context
	// Text is the text passed to the call.
	Text string
	// Voice is the VoiceProfile passed to the call.
	Voice types.VoiceProfile
	// Streaming is true for SynthesizeStream.
	Streaming bool
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize. When nil, Synthesize returns the text
	// bytes so tests can tell clips apart.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// StreamChunks is the sequence of buffers emitted by SynthesizeStream.
	// When nil, the stream emits the text bytes as a single buffer.
	StreamChunks [][]byte

	// StreamErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a stream.
	StreamErr error

	// StreamFinishErr, if non-nil, is reported by Stream.Err after all chunks
	// were delivered.
	StreamFinishErr error

	// ChunkDelay is waited before each streamed buffer.
	ChunkDelay time.Duration

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records (read after test) ---

	// SynthesizeCalls records every Synthesize and SynthesizeStream call in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every invocation of ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Synthesize records the call and returns Audio (or the text bytes).
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.Audio != nil {
		out := make([]byte, len(p.Audio))
		copy(out, p.Audio)
		return out, nil
	}
	return []byte(text), nil
}

// SynthesizeStream records the call and returns a stream emitting StreamChunks
// (or the text bytes). If StreamErr is set, it returns nil, StreamErr.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice, Streaming: true})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, 0, len(p.StreamChunks))
	for _, c := range p.StreamChunks {
		chunks = append(chunks, append([]byte(nil), c...))
	}
	if p.StreamChunks == nil {
		chunks = append(chunks, []byte(text))
	}
	delay, finishErr := p.ChunkDelay, p.StreamFinishErr
	p.mu.Unlock()

	s := tts.NewStream(len(chunks) + 1)
	go func() {
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					s.Finish(ctx.Err())
					return
				}
			}
			if !s.Send(ctx, c) {
				s.Finish(ctx.Err())
				return
			}
		}
		s.Finish(finishErr)
	}()
	return s, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of the recorded synthesis calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
