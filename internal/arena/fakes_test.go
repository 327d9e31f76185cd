package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/types"
)

var (
	plato     = persona.Persona{ID: "a", Name: "Plato", VoiceID: "va"}
	aristotle = persona.Persona{ID: "b", Name: "Aristotle", VoiceID: "vb"}
)

type converseCall struct {
	Input   string
	Persona string
	History []types.Utterance
}

// scriptedLLM answers "<name>-<n>" where n counts calls, unless fn is set.
type scriptedLLM struct {
	mu    sync.Mutex
	calls []converseCall
	fn    func(ctx context.Context, n int) (string, error)
}

func (s *scriptedLLM) Converse(ctx context.Context, input string, p persona.Persona, history []types.Utterance) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, converseCall{
		Input:   input,
		Persona: p.Name,
		History: append([]types.Utterance(nil), history...),
	})
	n := len(s.calls)
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, n)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", p.Name, n), nil
}

func (s *scriptedLLM) Calls() []converseCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]converseCall(nil), s.calls...)
}

// fakeVoice records spoken lines. With block set, Speak waits for ctx.
type fakeVoice struct {
	mu      sync.Mutex
	spoken  []string
	stops   int
	block   bool
	err     error
	started chan string
}

func (v *fakeVoice) Speak(ctx context.Context, text string, _ persona.Persona) error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	block, err, started := v.block, v.err, v.started
	v.mu.Unlock()

	if started != nil {
		select {
		case started <- text:
		default:
		}
	}
	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stops++
	v.mu.Unlock()
}

func (v *fakeVoice) Spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

func (v *fakeVoice) Stops() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stops
}

// gatedVoice holds its first Speak call until gate closes, so a test can
// require that something happens while the first reply is playing.
type gatedVoice struct {
	fakeVoice
	gate chan struct{}
	once sync.Once
}

func (v *gatedVoice) Speak(ctx context.Context, text string, p persona.Persona) error {
	first := false
	v.once.Do(func() { first = true })
	if first {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("gate never opened during playback")
		}
	}
	return v.fakeVoice.Speak(ctx, text, p)
}
