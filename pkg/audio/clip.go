package audio

// ClipQueue plays whole utterances one after another. Each PlayAudio call
// queues a clip behind whatever is currently playing; playback is strictly
// sequential because a single dispatch goroutine owns the player.
type ClipQueue struct {
	q *Queue
}

// NewClipQueue creates a ClipQueue that plays through player.
func NewClipQueue(player Player, opts ...QueueOption) *ClipQueue {
	return &ClipQueue{q: NewQueue(player, opts...)}
}

// PlayAudio queues data for playback at speed. onDone (may be nil) fires once
// the clip finished, failed to play, or was discarded by StopAll.
func (c *ClipQueue) PlayAudio(data []byte, speed float64, onDone func()) {
	c.q.ensureCycle()
	c.q.Enqueue(Chunk{Data: data, Speed: speed, OnPlayed: onDone})
}

// StopAll halts the current clip and discards pending clips. The completion
// callbacks of all affected clips fire.
func (c *ClipQueue) StopAll() {
	c.q.Stop()
}

// Playing reports whether a clip is playing or pending.
func (c *ClipQueue) Playing() bool {
	return c.q.State() == StatePlaying
}

// Close stops playback and releases the dispatch goroutine.
func (c *ClipQueue) Close() error {
	return c.q.Close()
}
