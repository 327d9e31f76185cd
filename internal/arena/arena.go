// Package arena runs conversations between personas.
//
// An [Arena] lets two personas talk to each other autonomously. Every turn
// forks two branches with errgroup: the current speaker's latest reply is
// played while the other persona already generates its answer, and the turn
// ends when both branches have joined. Each persona keeps a private history in
// which its own lines are "self" and the other side's lines are "incoming".
//
// A [Chat] is the single-persona variant driven by a human.
//
// All exported methods are safe for concurrent use. Shared state is mutated
// only by the conversation goroutine under the arena mutex; readers receive
// copies through [Arena.Snapshot].
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/types"
)

// Defaults applied by [New] for zero [Config] values.
const (
	DefaultTurnPause = time.Second
	DefaultSeedPause = 500 * time.Millisecond
)

// TopicPrefix starts the transcript line that announces the topic.
const TopicPrefix = "Let's discuss: "

var (
	// ErrEmptyTopic is returned by Start for a blank topic.
	ErrEmptyTopic = errors.New("arena: topic must not be empty")

	// ErrPersonasNotSet is returned by Start before two personas were chosen.
	ErrPersonasNotSet = errors.New("arena: two personas must be selected")

	// ErrSamePersona is returned when both slots hold the same persona.
	ErrSamePersona = errors.New("arena: personas must be distinct")

	// ErrNoTopic is returned by Restart when no conversation ran before.
	ErrNoTopic = errors.New("arena: no previous topic")

	// ErrActive is returned by SetPersonas while a conversation runs.
	ErrActive = errors.New("arena: conversation is active")
)

// Conversationalist produces one persona reply. It is satisfied by
// *converse.Gateway.
type Conversationalist interface {
	Converse(ctx context.Context, input string, p persona.Persona, history []types.Utterance) (string, error)
}

// Voice speaks a reply and blocks until it has been heard. It is satisfied by
// *speech.Speaker.
type Voice interface {
	Speak(ctx context.Context, text string, p persona.Persona) error
	Stop()
}

// State is the lifecycle state of an [Arena].
type State int

const (
	StateSetup State = iota
	StateActive
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the dependencies and tunables of an [Arena].
type Config struct {
	// LLM generates replies. Required.
	LLM Conversationalist

	// Voice plays replies. Required.
	Voice Voice

	// TurnPause is waited after every steady-state turn. Zero means
	// [DefaultTurnPause]; a negative value disables the pause.
	TurnPause time.Duration

	// SeedPause is waited before the first answer to the seed reply is
	// generated. Zero means [DefaultSeedPause]; negative disables it.
	SeedPause time.Duration

	// MaxTurns ends the conversation after that many steady-state turns. Zero
	// means unbounded.
	MaxTurns int

	// Archive, if set, receives the transcript when a conversation ends.
	Archive archive.Store

	// Metrics overrides [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Snapshot is a read-only copy of the arena state.
type Snapshot struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	State          State              `json:"state"`
	Speaker        int                `json:"speaker"`
	Topic          string             `json:"topic,omitempty"`
	Personas       [2]persona.Persona `json:"personas"`
	Transcript     []types.Utterance  `json:"transcript"`
	LastError      string             `json:"last_error,omitempty"`
	Turns          int                `json:"turns"`
}

// Arena runs one two-persona conversation at a time.
type Arena struct {
	llm       Conversationalist
	voice     Voice
	turnPause atomic.Int64 // nanoseconds
	seedPause atomic.Int64
	maxTurns  int
	archive   archive.Store
	metrics   *observe.Metrics

	// lifecycle serializes Start, Stop and Reset.
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	speaker    int
	topic      string
	personas   [2]persona.Persona
	transcript []types.Utterance
	histories  [2][]types.Utterance
	lastErr    string
	turns      int
	convID     string
	startIdx   int       // transcript index of the current topic line
	startedAt  time.Time // of the current conversation
	gen        uint64    // bumped by Stop; a stale run must not touch state
	cancel     context.CancelFunc
	done       chan struct{}

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New creates an idle Arena in [StateSetup].
func New(cfg Config) *Arena {
	a := &Arena{
		llm:      cfg.LLM,
		voice:    cfg.Voice,
		maxTurns: cfg.MaxTurns,
		archive:  cfg.Archive,
		metrics:  cfg.Metrics,
	}
	a.SetPacing(cfg.TurnPause, cfg.SeedPause)
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// SetPacing replaces the turn and seed pauses with the same zero and negative
// conventions as [Config]. A running conversation uses the new values from
// its next pause on.
func (a *Arena) SetPacing(turnPause, seedPause time.Duration) {
	a.turnPause.Store(int64(pauseOr(turnPause, DefaultTurnPause)))
	a.seedPause.Store(int64(pauseOr(seedPause, DefaultSeedPause)))
}

func pauseOr(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	default:
		return d
	}
}

// SetPersonas selects the two participants. The first one receives the topic.
func (a *Arena) SetPersonas(first, second persona.Persona) error {
	if err := checkPair(first, second); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateActive {
		return ErrActive
	}
	a.personas = [2]persona.Persona{first, second}
	return nil
}

func checkPair(first, second persona.Persona) error {
	if first.ID == "" || second.ID == "" {
		return ErrPersonasNotSet
	}
	if first.ID == second.ID {
		return ErrSamePersona
	}
	return nil
}

// Start begins a conversation about topic between the selected personas. A
// running conversation is stopped first. Histories and the last error are
// cleared and the topic line is appended to the transcript.
//
// The conversation outlives ctx's cancellation but keeps its values; use
// [Arena.Stop] to end it.
func (a *Arena) Start(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.stop()

	a.mu.Lock()
	if err := checkPair(a.personas[0], a.personas[1]); err != nil {
		a.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.gen++
	gen := a.gen
	a.state = StateActive
	a.speaker = 0
	a.topic = topic
	a.histories = [2][]types.Utterance{}
	a.lastErr = ""
	a.turns = 0
	a.convID = uuid.NewString()
	a.startedAt = time.Now().UTC()
	a.startIdx = len(a.transcript)
	line := types.NewUtterance(TopicPrefix+topic, "", true)
	a.transcript = append(a.transcript, line)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	pair := a.personas
	a.mu.Unlock()

	a.publish(Event{Kind: EventState, State: StateActive})
	a.publish(Event{Kind: EventUtterance, Utterance: &line})
	a.metrics.RecordActiveConversation(ctx, "arena", 1)

	slog.Info("arena started", "topic", topic, "first", pair[0].Name, "second", pair[1].Name)
	go a.run(runCtx, gen, pair, topic, done)
	return nil
}

// Restart starts a new conversation on the most recent topic.
func (a *Arena) Restart(ctx context.Context) error {
	a.mu.Lock()
	topic := a.topic
	a.mu.Unlock()
	if topic == "" {
		return ErrNoTopic
	}
	return a.Start(ctx, topic)
}

// Stop ends the running conversation: the task is cancelled, playback halts
// and Stop returns once the conversation goroutine has exited. No transcript
// entries are added afterwards. Stop is idempotent.
func (a *Arena) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.stop()
}

func (a *Arena) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	running := false
	if done != nil {
		select {
		case <-done:
		default:
			running = true
		}
	}
	wasActive := a.state == StateActive
	if wasActive {
		a.state = StateStopped
		a.gen++
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// The speaker is shared with chat; leave it alone when idle.
	if running || wasActive {
		a.voice.Stop()
	}
	if done != nil {
		<-done
	}
	if wasActive {
		a.publish(Event{Kind: EventState, State: StateStopped})
	}
}

// Reset stops the conversation and clears the transcript, both histories and
// the last error. The selected personas and the last topic are kept.
func (a *Arena) Reset() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.stop()

	a.mu.Lock()
	a.state = StateSetup
	a.transcript = nil
	a.histories = [2][]types.Utterance{}
	a.lastErr = ""
	a.turns = 0
	a.speaker = 0
	a.convID = ""
	a.startIdx = 0
	a.mu.Unlock()
	a.publish(Event{Kind: EventState, State: StateSetup})
}

// Snapshot returns a copy of the current state.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ConversationID: a.convID,
		State:          a.state,
		Speaker:        a.speaker,
		Topic:          a.topic,
		Personas:       a.personas,
		Transcript:     append([]types.Utterance(nil), a.transcript...),
		LastError:      a.lastErr,
		Turns:          a.turns,
	}
}

// History returns a copy of the private history of the persona in slot
// (0 or 1).
func (a *Arena) History(slot int) []types.Utterance {
	if slot < 0 || slot > 1 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Utterance(nil), a.histories[slot]...)
}

// LastError returns the user-visible message of the error that ended the
// last conversation, or "".
func (a *Arena) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// ClearError dismisses the last error.
func (a *Arena) ClearError() {
	a.mu.Lock()
	a.lastErr = ""
	a.mu.Unlock()
}

// Wait blocks until the running conversation has ended or ctx is done.
func (a *Arena) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("arena: wait: %w", ctx.Err())
	}
}
