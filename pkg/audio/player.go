// Package audio plays synthesized speech.
//
// A [Player] renders one encoded clip at a time. [Queue] feeds a player with
// the sentence clips of a reply strictly in order and reports when the whole
// reply has been heard; [ClipQueue] is the whole-utterance variant used when
// streaming synthesis is disabled.
package audio

import (
	"context"
	"errors"
)

// ErrDecode is wrapped by players when a clip cannot be decoded. Queues skip
// such clips instead of aborting.
var ErrDecode = errors.New("audio: cannot decode clip")

// Player plays encoded audio clips.
//
// Play blocks until the clip has finished playing or ctx is cancelled. speed is
// the playback rate multiplier (1.0 = normal). Implementations need not be safe
// for concurrent Play calls; the queues in this package never overlap them.
type Player interface {
	Play(ctx context.Context, data []byte, speed float64) error
}

// PlayerFunc adapts a function to the [Player] interface.
type PlayerFunc func(ctx context.Context, data []byte, speed float64) error

// Play calls f.
func (f PlayerFunc) Play(ctx context.Context, data []byte, speed float64) error {
	return f(ctx, data, speed)
}
