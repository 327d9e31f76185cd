package arena

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/types"
)

// ErrEmptyMessage is returned by [Chat.Send] for a blank message.
var ErrEmptyMessage = errors.New("arena: message must not be empty")

// ErrorPrefix starts the transcript line that reports a failed exchange.
const ErrorPrefix = "Error: "

// Chat is a conversation between a human and one persona. Replies are spoken
// in the background; [Chat.Wait] blocks until the latest one has been heard.
type Chat struct {
	llm     Conversationalist
	voice   Voice
	persona persona.Persona
	metrics *observe.Metrics

	sendMu sync.Mutex

	mu          sync.Mutex
	history     []types.Utterance
	transcript  []types.Utterance
	speakCancel context.CancelFunc
	speakDone   chan struct{}
}

// NewChat creates a chat with p. Metrics may be nil.
func NewChat(llm Conversationalist, voice Voice, p persona.Persona, metrics *observe.Metrics) *Chat {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Chat{llm: llm, voice: voice, persona: p, metrics: metrics}
}

// Persona returns the chat partner.
func (c *Chat) Persona() persona.Persona { return c.persona }

// Send appends text as a human line, asks the persona for a reply, appends it
// and starts speaking it. A reply still being spoken is interrupted.
//
// A failed exchange appends an "Error: ..." line to the transcript and
// returns the error. Cancellation returns the error without a visible line.
func (c *Chat) Send(ctx context.Context, text string) (types.Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Utterance{}, ErrEmptyMessage
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.stopSpeaking()

	c.mu.Lock()
	c.transcript = append(c.transcript, types.NewUtterance(text, "", true))
	history := append([]types.Utterance(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.llm.Converse(ctx, text, c.persona, history)
	if err != nil {
		c.reportError(err)
		return types.Utterance{}, err
	}

	u := types.NewUtterance(reply, c.persona.ID, false)
	c.mu.Lock()
	c.history = append(c.history,
		types.NewUtterance(text, "", true),
		types.NewUtterance(reply, c.persona.ID, false),
	)
	c.transcript = append(c.transcript, u)
	c.mu.Unlock()
	c.metrics.RecordTurn(ctx, "chat", c.persona.Name)

	c.speak(context.WithoutCancel(ctx), reply)
	return u, nil
}

func (c *Chat) speak(ctx context.Context, reply string) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.speakCancel, c.speakDone = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if err := c.voice.Speak(ctx, reply, c.persona); err != nil {
			c.reportError(err)
		}
	}()
}

// reportError appends a visible error line unless err is a cancellation.
func (c *Chat) reportError(err error) {
	if apierr.IsCancellation(err) {
		return
	}
	slog.Warn("chat: exchange failed", "persona", c.persona.Name, "err", err)
	c.mu.Lock()
	c.transcript = append(c.transcript, types.NewUtterance(ErrorPrefix+apierr.UserMessage(err), "", false))
	c.mu.Unlock()
}

// stopSpeaking cancels the reply being spoken and reports whether there was
// one.
func (c *Chat) stopSpeaking() bool {
	c.mu.Lock()
	cancel, done := c.speakCancel, c.speakDone
	c.speakCancel, c.speakDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// Wait blocks until the latest reply has been spoken or ctx is done.
func (c *Chat) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.speakDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts the reply being spoken. It is idempotent and leaves the
// shared voice alone when nothing of this chat is playing.
func (c *Chat) Stop() {
	if c.stopSpeaking() {
		c.voice.Stop()
	}
}

// Transcript returns a copy of every line of the chat, including error lines.
func (c *Chat) Transcript() []types.Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Utterance(nil), c.transcript...)
}

// Reset clears the chat.
func (c *Chat) Reset() {
	c.Stop()
	c.mu.Lock()
	c.history, c.transcript = nil, nil
	c.mu.Unlock()
}
