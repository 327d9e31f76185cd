package arena

import "github.com/MrWong99/prophet/pkg/types"

// subscriberBuffer is the capacity of a subscription channel. Events beyond
// it are dropped for that subscriber.
const subscriberBuffer = 64

// EventKind identifies the kind of an [Event].
type EventKind string

const (
	// EventUtterance carries a line appended to the transcript.
	EventUtterance EventKind = "utterance"

	// EventSpeaker reports which slot is now speaking.
	EventSpeaker EventKind = "speaker"

	// EventState reports a lifecycle transition.
	EventState EventKind = "state"

	// EventError carries the user-visible message of the error that ended the
	// conversation.
	EventError EventKind = "error"
)

// Event is one change of the arena state.
type Event struct {
	Kind      EventKind        `json:"kind"`
	State     State            `json:"state"`
	Speaker   int              `json:"speaker"`
	Utterance *types.Utterance `json:"utterance,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Subscribe returns a channel receiving every subsequent event and a function
// that ends the subscription and closes the channel. Slow subscribers miss
// events rather than block the conversation.
func (a *Arena) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	a.subsMu.Lock()
	if a.subs == nil {
		a.subs = make(map[chan Event]struct{})
	}
	a.subs[ch] = struct{}{}
	a.subsMu.Unlock()

	return ch, func() {
		a.subsMu.Lock()
		defer a.subsMu.Unlock()
		if _, ok := a.subs[ch]; ok {
			delete(a.subs, ch)
			close(ch)
		}
	}
}

func (a *Arena) publish(e Event) {
	if e.Kind != EventState {
		a.mu.Lock()
		e.State = a.state
		a.mu.Unlock()
	}
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for ch := range a.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
