package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the playback state of a [Queue].
type State int

const (
	// StateIdle means nothing is playing and nothing is pending.
	StateIdle State = iota

	// StatePlaying means a chunk is playing or waiting to play.
	StatePlaying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Chunk is one clip submitted to a [Queue]. The queue owns it once enqueued.
type Chunk struct {
	// Data is the encoded audio.
	Data []byte

	// Speed is the playback rate multiplier. Zero means 1.0.
	Speed float64

	// OnPlayed, if set, is called once the chunk has finished playing, was
	// skipped because it failed to play, or was discarded by Stop.
	OnPlayed func()
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithPlaybackObserver registers fn to be called after every Play call with
// its duration and error. fn runs on the dispatch goroutine and must not block.
func WithPlaybackObserver(fn func(d time.Duration, err error)) QueueOption {
	return func(q *Queue) {
		q.observe = fn
	}
}

// cycle is one Start…drain/stop span of a Queue.
type cycle struct {
	onDone func()
	done   chan struct{}
	fired  bool
}

// Queue plays a continuously appended sequence of chunks back to back.
//
// A producer calls Start, then Enqueue for every chunk as it becomes
// available, and finally MarkNoMoreChunks. Chunks play strictly in enqueue
// order on a single dispatch goroutine, so two chunks never overlap. The
// completion callback passed to Start fires exactly once per cycle: when the
// last chunk finished after MarkNoMoreChunks, or when Stop is called.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	player  Player
	observe func(time.Duration, error)

	mu            sync.Mutex
	pending       []Chunk
	playing       bool
	cancelPlaying context.CancelFunc // cancels the current Play call
	gen           uint64             // bumped by Stop; stale completions are ignored
	noMore        bool
	cur           *cycle

	notify chan struct{} // signalled when a chunk is enqueued
	done   chan struct{} // closed by Close to stop the dispatch goroutine
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a Queue that plays through player and starts its dispatch
// goroutine. Call [Queue.Close] to release it.
func NewQueue(player Player, opts ...QueueOption) *Queue {
	q := &Queue{
		player: player,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Start begins a new cycle. onDone (may be nil) is called when the cycle
// completes. An unfinished previous cycle is stopped first, which fires its
// own completion.
func (q *Queue) Start(onDone func()) {
	q.mu.Lock()
	var fire []func()
	if q.cur != nil && !q.cur.fired {
		fire = q.stopLocked()
	}
	q.cur = &cycle{onDone: onDone, done: make(chan struct{})}
	q.noMore = false
	q.mu.Unlock()

	runAll(fire)
}

// Enqueue appends c to the pending list of the active cycle. Chunks enqueued
// outside an active cycle (before Start, after Stop, or after the cycle
// drained) and chunks enqueued on a closed queue are discarded; their OnPlayed
// fires immediately.
func (q *Queue) Enqueue(c Chunk) {
	q.mu.Lock()
	if q.closed || q.cur == nil || q.cur.fired {
		q.mu.Unlock()
		if c.OnPlayed != nil {
			c.OnPlayed()
		}
		return
	}
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// ensureCycle starts a cycle without a completion callback unless one is
// already active.
func (q *Queue) ensureCycle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cur == nil || q.cur.fired {
		q.cur = &cycle{done: make(chan struct{})}
		q.noMore = false
	}
}

// MarkNoMoreChunks tells the queue that the producer has finished. If nothing
// is playing or pending the cycle completes now; otherwise it completes when
// the last chunk has played.
func (q *Queue) MarkNoMoreChunks() {
	q.mu.Lock()
	q.noMore = true
	var fire []func()
	if !q.playing && len(q.pending) == 0 {
		fire = q.completeLocked()
	}
	q.mu.Unlock()

	runAll(fire)
}

// Stop halts the current chunk immediately, discards pending chunks (firing
// their OnPlayed callbacks), returns to idle and completes the current cycle.
// Stop is idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	fire := q.stopLocked()
	q.mu.Unlock()

	runAll(fire)
}

// Done returns a channel that is closed when the current cycle completes. If
// no cycle was ever started the returned channel is already closed.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return q.cur.done
}

// Wait blocks until the current cycle completes or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-q.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports whether the queue is idle or playing.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing || len(q.pending) > 0 {
		return StatePlaying
	}
	return StateIdle
}

// Close stops playback and terminates the dispatch goroutine. Close is
// idempotent and always returns nil.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	fire := q.stopLocked()
	q.mu.Unlock()

	runAll(fire)
	close(q.done)
	q.wg.Wait()
	return nil
}

// stopLocked implements Stop and returns the callbacks to run once q.mu is
// released. Must be called with q.mu held.
func (q *Queue) stopLocked() []func() {
	var fire []func()
	for _, c := range q.pending {
		if c.OnPlayed != nil {
			fire = append(fire, c.OnPlayed)
		}
	}
	q.pending = nil

	if q.cancelPlaying != nil {
		q.cancelPlaying()
		q.cancelPlaying = nil
	}
	q.playing = false
	q.gen++

	return append(fire, q.completeLocked()...)
}

// completeLocked fires the current cycle if it has not fired yet. Must be
// called with q.mu held.
func (q *Queue) completeLocked() []func() {
	if q.cur == nil || q.cur.fired {
		return nil
	}
	q.cur.fired = true
	close(q.cur.done)
	if q.cur.onDone != nil {
		return []func(){q.cur.onDone}
	}
	return nil
}

// dispatch pulls chunks from the pending list and plays them one at a time.
// It runs until Close is called.
func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			c, ctx, gen, ok := q.dequeue()
			if !ok {
				break
			}

			speed := c.Speed
			if speed == 0 {
				speed = 1
			}
			start := time.Now()
			err := q.player.Play(ctx, c.Data, speed)
			if q.observe != nil {
				q.observe(time.Since(start), err)
			}
			if err != nil && ctx.Err() == nil {
				slog.Warn("audio: skipping chunk", "bytes", len(c.Data), "err", err)
			}

			if c.OnPlayed != nil {
				c.OnPlayed()
			}
			q.finish(gen)
		}
	}
}

// dequeue pops the oldest pending chunk and marks it as playing. Returns
// ok=false if nothing is pending.
func (q *Queue) dequeue() (c Chunk, ctx context.Context, gen uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Chunk{}, nil, 0, false
	}
	c = q.pending[0]
	q.pending[0] = Chunk{}
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.playing = true
	q.cancelPlaying = cancel
	return c, ctx, q.gen, true
}

// finish clears the playing state after a chunk and completes the cycle if
// the producer is done and nothing is left. Chunks from before a Stop are
// ignored.
func (q *Queue) finish(gen uint64) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	if q.cancelPlaying != nil {
		q.cancelPlaying()
		q.cancelPlaying = nil
	}
	q.playing = false
	var fire []func()
	if q.noMore && len(q.pending) == 0 {
		fire = q.completeLocked()
	}
	q.mu.Unlock()

	runAll(fire)
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
