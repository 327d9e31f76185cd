package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/prophet/pkg/apierr"
	ttsmock "github.com/MrWong99/prophet/pkg/provider/tts/mock"
	"github.com/MrWong99/prophet/pkg/types"
)

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{
		StreamChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
	}
	secondary := &ttsmock.Provider{
		StreamChunks: [][]byte{[]byte("fallback-audio")},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	stream, err := fb.SynthesizeStream(context.Background(), "hello", types.VoiceProfile{
		ID:   "v1",
		Name: "TestVoice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	audio, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if string(audio) != "audio1audio2" {
		t.Fatalf("audio = %q, want audio1audio2", audio)
	}
	if len(primary.Calls()) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls()))
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestTTSFallback_SynthesizeStream_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		StreamErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		StreamChunks: [][]byte{[]byte("fallback-audio")},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	stream, err := fb.SynthesizeStream(context.Background(), "hello", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audio, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if string(audio) != "fallback-audio" {
		t.Fatalf("audio = %q, want fallback-audio", audio)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: apierr.ErrMissingCredential}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, apierr.ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential in the chain", err)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Audio: []byte("clip")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), "hello", types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "clip" {
		t.Fatalf("audio = %q, want clip", audio)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Voice.ID != "v1" {
		t.Fatalf("secondary calls = %+v, want one call with voice v1", calls)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		ListVoicesErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []types.VoiceProfile{
			{ID: "v1", Name: "Alice"},
			{ID: "v2", Name: "Bob"},
		},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "Alice" {
		t.Fatalf("voices[0].Name = %q, want Alice", voices[0].Name)
	}
}
