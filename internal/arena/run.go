package arena

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/types"
)

// archiveTimeout bounds the transcript save after a conversation ends.
const archiveTimeout = 5 * time.Second

// run is the conversation task. It seeds the conversation with the topic and
// then alternates speakers until ctx is cancelled, an error occurs, or the
// turn bound is reached.
func (a *Arena) run(ctx context.Context, gen uint64, pair [2]persona.Persona, topic string, done chan struct{}) {
	defer close(done)
	defer a.finish(ctx, gen)

	log := observe.Logger(ctx).With("conversation_id", a.conversationID())

	// Seed: the first persona answers the topic with an empty history.
	reply, err := a.llm.Converse(ctx, topic, pair[0], nil)
	if err != nil {
		a.fail(gen, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	u, ok := a.record(gen, func() types.Utterance {
		u := types.NewUtterance(reply, pair[0].ID, false)
		a.histories[0] = append(a.histories[0],
			types.NewUtterance(topic, "", true),
			types.NewUtterance(reply, pair[0].ID, false),
		)
		a.histories[1] = append(a.histories[1], types.NewUtterance(reply, pair[0].ID, true))
		a.speaker = 0
		return u
	})
	if !ok {
		return
	}
	a.publish(Event{Kind: EventUtterance, Utterance: &u, Speaker: 0})
	log.Debug("arena seeded", "persona", pair[0].Name)

	latest, s := reply, 0
	for turn := 1; ; turn++ {
		if ctx.Err() != nil {
			return
		}
		g := 1 - s

		if a.maxTurns > 0 && turn > a.maxTurns {
			// Let the last reply be heard before ending.
			if err := a.voice.Speak(ctx, latest, pair[s]); err != nil {
				a.fail(gen, err)
			}
			return
		}

		a.mu.Lock()
		if gen != a.gen {
			a.mu.Unlock()
			return
		}
		a.speaker = s
		history := append([]types.Utterance(nil), a.histories[g]...)
		a.mu.Unlock()
		a.publish(Event{Kind: EventSpeaker, Speaker: s})

		next, err := a.turn(ctx, turn, latest, pair[s], pair[g], history)
		if err != nil {
			a.fail(gen, err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		u, ok := a.record(gen, func() types.Utterance {
			a.histories[g] = append(a.histories[g], types.NewUtterance(next, pair[g].ID, false))
			a.histories[s] = append(a.histories[s], types.NewUtterance(next, pair[g].ID, true))
			a.turns++
			return types.NewUtterance(next, pair[g].ID, false)
		})
		if !ok {
			return
		}
		a.publish(Event{Kind: EventUtterance, Utterance: &u, Speaker: g})
		a.metrics.RecordTurn(ctx, "arena", pair[g].Name)

		latest, s = next, g

		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, time.Duration(a.turnPause.Load())) {
			return
		}
	}
}

// turn plays speaker's latest reply while listener generates its answer and
// returns that answer once both branches have joined.
func (a *Arena) turn(ctx context.Context, n int, latest string, speaker, listener persona.Persona, history []types.Utterance) (string, error) {
	ctx, span := observe.StartSpan(ctx, "arena.turn")
	defer span.End()

	var next string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if egCtx.Err() != nil {
			return egCtx.Err()
		}
		return a.voice.Speak(egCtx, latest, speaker)
	})
	eg.Go(func() error {
		if n == 1 && !sleep(egCtx, time.Duration(a.seedPause.Load())) {
			return egCtx.Err()
		}
		if egCtx.Err() != nil {
			return egCtx.Err()
		}
		r, err := a.llm.Converse(egCtx, latest, listener, history)
		next = r
		return err
	})
	if err := eg.Wait(); err != nil {
		return "", err
	}
	return next, nil
}

// record runs mutate under the arena mutex, appends the utterance it returns
// to the transcript and reports false if the conversation was stopped in the
// meantime.
func (a *Arena) record(gen uint64, mutate func() types.Utterance) (types.Utterance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.state != StateActive {
		return types.Utterance{}, false
	}
	u := mutate()
	a.transcript = append(a.transcript, u)
	return u, true
}

// fail ends the conversation with err. Cancellations are swallowed: they only
// happen after Stop, which already moved the state.
func (a *Arena) fail(gen uint64, err error) {
	if apierr.IsCancellation(err) {
		return
	}
	msg := apierr.UserMessage(err)

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.state = StateStopped
	a.lastErr = msg
	a.mu.Unlock()

	a.voice.Stop()
	slog.Error("arena stopped on error", "err", err)
	a.publish(Event{Kind: EventError, Error: msg})
	a.publish(Event{Kind: EventState, State: StateStopped})
}

// finish runs when the conversation task exits.
func (a *Arena) finish(ctx context.Context, gen uint64) {
	a.metrics.RecordActiveConversation(context.WithoutCancel(ctx), "arena", -1)

	a.mu.Lock()
	ended := false
	if gen == a.gen && a.state == StateActive {
		a.state = StateStopped
		ended = true
	}
	conv := archive.Conversation{
		ID:             a.convID,
		Subject:        a.topic,
		ParticipantIDs: []string{a.personas[0].ID, a.personas[1].ID},
		CreatedAt:      a.startedAt,
	}
	if a.startIdx < len(a.transcript) {
		conv.Transcript = append([]types.Utterance(nil), a.transcript[a.startIdx:]...)
	}
	a.mu.Unlock()

	if ended {
		a.publish(Event{Kind: EventState, State: StateStopped})
	}
	if a.archive == nil || len(conv.Transcript) < 2 {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := a.archive.Save(saveCtx, conv); err != nil {
		observe.Logger(ctx).Warn("arena: archive conversation", "conversation_id", conv.ID, "err", err)
	}
}

func (a *Arena) conversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convID
}

// sleep waits d or until ctx is done and reports whether the full duration
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
