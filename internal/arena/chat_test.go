package arena

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/prophet/pkg/apierr"
)

func TestChat_Send(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	voice := &fakeVoice{}
	c := NewChat(llm, voice, plato, nil)

	u, err := c.Send(context.Background(), "What is the good?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if u.Content != "Plato-1" || u.PersonaID != "a" || u.Human {
		t.Errorf("reply = %+v", u)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := voice.Spoken(); !slices.Equal(got, []string{"Plato-1"}) {
		t.Errorf("spoken = %q", got)
	}

	if _, err := c.Send(context.Background(), "And beauty?"); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	calls := llm.Calls()
	if got := contents(calls[1].History); !slices.Equal(got, []string{"What is the good?", "Plato-1"}) {
		t.Errorf("second call history = %q", got)
	}
	if got := contents(c.Transcript()); !slices.Equal(got, []string{"What is the good?", "Plato-1", "And beauty?", "Plato-2"}) {
		t.Errorf("transcript = %q", got)
	}
}

func TestChat_ErrorLine(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{fn: func(context.Context, int) (string, error) {
		return "", fmt.Errorf("converse: %w", apierr.ErrEmptyResponse)
	}}
	c := NewChat(llm, &fakeVoice{}, plato, nil)

	_, err := c.Send(context.Background(), "Hello")
	if !errors.Is(err, apierr.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	want := []string{"Hello", "Error: No response from API"}
	if got := contents(c.Transcript()); !slices.Equal(got, want) {
		t.Errorf("transcript = %q, want %q", got, want)
	}

	// The failed exchange is not part of the history.
	llm.mu.Lock()
	llm.fn = nil
	llm.mu.Unlock()
	if _, err := c.Send(context.Background(), "Again"); err != nil {
		t.Fatal(err)
	}
	if h := llm.Calls()[1].History; len(h) != 0 {
		t.Errorf("history after failure = %q, want empty", contents(h))
	}
}

func TestChat_CancellationLeavesNoErrorLine(t *testing.T) {
	t.Parallel()
	c := NewChat(&scriptedLLM{}, &fakeVoice{}, plato, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Send(ctx, "Hello"); !apierr.IsCancellation(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if got := contents(c.Transcript()); !slices.Equal(got, []string{"Hello"}) {
		t.Errorf("transcript = %q", got)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	t.Parallel()
	c := NewChat(&scriptedLLM{}, &fakeVoice{}, plato, nil)
	if _, err := c.Send(context.Background(), " "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestChat_StopInterruptsSpeech(t *testing.T) {
	t.Parallel()
	voice := &fakeVoice{block: true, started: make(chan string, 1)}
	c := NewChat(&scriptedLLM{}, voice, plato, nil)

	if _, err := c.Send(context.Background(), "Speak at length."); err != nil {
		t.Fatal(err)
	}
	<-voice.started
	c.Stop()
	c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait after Stop: %v", err)
	}
	if n := len(c.Transcript()); n != 2 {
		t.Errorf("transcript = %q, want no error line", contents(c.Transcript()))
	}

	c.Reset()
	if n := len(c.Transcript()); n != 0 {
		t.Errorf("transcript after reset = %d lines", n)
	}
}

func TestChat_StopWhenSilentLeavesVoiceAlone(t *testing.T) {
	t.Parallel()
	voice := &fakeVoice{}
	c := NewChat(&scriptedLLM{}, voice, plato, nil)

	c.Stop()
	c.Reset()
	if n := voice.Stops(); n != 0 {
		t.Errorf("voice stops = %d, want 0 for a chat that never spoke", n)
	}
}
