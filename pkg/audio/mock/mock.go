// Package mock provides an in-memory [audio.Player] for use in unit tests.
//
// Player is safe for concurrent use. It records every clip it was asked to
// play so that tests can assert on order, speed and cancellation, and it
// exposes fields that control how long a clip "plays" and whether it fails.
//
// Typical usage:
//
//	p := &mock.Player{Delay: 10 * time.Millisecond}
//	q := audio.NewQueue(p)
//	defer q.Close()
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/prophet/pkg/audio"
)

// PlayCall records a single invocation of Play.
type PlayCall struct {
	// Data is a copy of the clip.
	Data []byte
	// Speed is the playback rate passed to Play.
	Speed float64
	// Cancelled is true when the call ended because ctx was cancelled.
	Cancelled bool
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Delay is how long each clip plays. Zero returns immediately.
	Delay time.Duration

	// Hold, if non-nil, makes Play block until a value is received from Hold,
	// Hold is closed, or ctx is cancelled. It takes precedence over Delay.
	Hold chan struct{}

	// FailOn lists clip contents that fail with an error wrapping
	// audio.ErrDecode.
	FailOn map[string]bool

	// Started, if non-nil, receives a copy of every clip when its playback
	// starts. Sends block, so size the buffer for the test.
	Started chan []byte

	// Calls records every Play invocation in completion order.
	Calls []PlayCall

	active    int
	maxActive int
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, data []byte, speed float64) error {
	clip := append([]byte(nil), data...)

	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	delay, hold, started, fail := p.Delay, p.Hold, p.Started, p.FailOn[string(data)]
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if started != nil {
		started <- clip
	}

	var err error
	switch {
	case fail:
		err = fmt.Errorf("mock: %w", audio.ErrDecode)
	case hold != nil:
		select {
		case <-hold:
		case <-ctx.Done():
			err = ctx.Err()
		}
	case delay > 0:
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		}
	default:
		err = ctx.Err()
	}

	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{Data: clip, Speed: speed, Cancelled: err != nil && ctx.Err() != nil})
	p.mu.Unlock()
	return err
}

// Played returns the contents of every recorded clip as strings, in order.
func (p *Player) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = string(c.Data)
	}
	return out
}

// Snapshot returns a copy of the recorded calls.
func (p *Player) Snapshot() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// MaxConcurrent returns the highest number of overlapping Play calls seen.
func (p *Player) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Reset clears all recorded calls. Thread-safe.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.maxActive = 0
}

var _ audio.Player = (*Player)(nil)
