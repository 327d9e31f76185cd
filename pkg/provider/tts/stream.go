package tts

import (
	"bytes"
	"context"
	"sync"
)

// DefaultStreamBuffer is the audio channel capacity used when NewStream is
// called with a non-positive size.
const DefaultStreamBuffer = 64

// Stream delivers the audio of one streaming synthesis request.
//
// The producer calls Send for every buffer and Finish exactly once at the end;
// further Finish calls are ignored. The consumer ranges over Audio and then
// checks Err.
type Stream struct {
	audio chan []byte
	done  chan struct{}
	once  sync.Once
	err   error
}

// NewStream returns a Stream whose audio channel holds up to buffer pending
// chunks.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream{
		audio: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Audio returns the channel of audio buffers. It is closed after Finish.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Send hands b to the consumer. It reports false if ctx was cancelled before
// the buffer could be delivered. Send must not be called after Finish.
func (s *Stream) Send(ctx context.Context, b []byte) bool {
	if len(b) == 0 {
		return true
	}
	select {
	case s.audio <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records err (nil on success) and closes the audio channel.
func (s *Stream) Finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		close(s.audio)
	})
}

// Err blocks until the stream is finished and returns the recorded error.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Collect drains the stream and returns the concatenated audio together with
// the stream's final error.
func (s *Stream) Collect() ([]byte, error) {
	var buf bytes.Buffer
	for b := range s.audio {
		buf.Write(b)
	}
	return buf.Bytes(), s.Err()
}
