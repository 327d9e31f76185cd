// Package converse implements the language-model gateway: one conversational
// turn for one persona. Given an input line, the persona and that persona's
// private history it returns the persona's next utterance.
//
// The gateway never retries. Failures are classified with the sentinels in
// [apierr] so the orchestrator can tell a user-initiated stop from a real
// problem.
package converse

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	"github.com/MrWong99/prophet/pkg/types"
)

// DefaultTemperature matches the chat completion default.
const DefaultTemperature = 1.0

// Settings exposes the per-call settings the gateway reads. It is consulted
// once per Converse call and never cached.
type Settings interface {
	Language() string
}

// StaticSettings is a fixed [Settings] value.
type StaticSettings string

// Language implements [Settings].
func (s StaticSettings) Language() string { return string(s) }

// Option configures a Gateway.
type Option func(*Gateway)

// WithSettings sets the settings source. Defaults to English.
func WithSettings(s Settings) Option {
	return func(g *Gateway) { g.settings = s }
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithMaxTokens caps the reply length. Zero means no cap.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(g *Gateway) { g.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway turns (input, persona, history) into the persona's next reply.
// It is safe for concurrent use.
type Gateway struct {
	provider     llm.Provider
	settings     Settings
	temperature  float64
	maxTokens    int
	providerName string
	metrics      *observe.Metrics
}

// New returns a Gateway backed by provider.
func New(provider llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:     provider,
		settings:     StaticSettings(DefaultLanguage),
		temperature:  DefaultTemperature,
		providerName: "llm",
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Converse produces p's reply to input. history is p's private view of the
// conversation: its own lines have Human == false, lines it received have
// Human == true.
//
// A reply that is empty after trimming is reported as
// [apierr.ErrEmptyResponse].
func (g *Gateway) Converse(ctx context.Context, input string, p persona.Persona, history []types.Utterance) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("converse: %w", err)
	}

	req := llm.CompletionRequest{
		SystemPrompt: SystemPrompt(p, g.settings.Language()),
		Messages:     Messages(history, input),
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	}

	var resp *llm.CompletionResponse
	err := observe.Timed(ctx, g.metrics.LLMDuration, "converse.complete", func(ctx context.Context) error {
		var err error
		resp, err = g.provider.Complete(ctx, req)
		return err
	}, observe.Attr("provider", g.providerName), observe.Attr("persona", p.Name))

	reply := ""
	if err == nil {
		if resp != nil {
			reply = strings.TrimSpace(resp.Content)
		}
		if reply == "" {
			err = apierr.ErrEmptyResponse
		}
	}

	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", apierr.Kind(err))
	if err != nil {
		if !apierr.IsCancellation(err) {
			g.metrics.RecordProviderError(ctx, g.providerName, "llm")
			observe.Logger(ctx).Warn("converse: completion failed", "persona", p.Name, "err", err)
		}
		return "", fmt.Errorf("converse: %s: %w", p.Name, err)
	}
	return reply, nil
}

// SystemPrompt builds the system message for p: the persona instruction, a
// blank line, then the in-character reminder and the language instruction.
func SystemPrompt(p persona.Persona, language string) string {
	var b strings.Builder
	if instr := strings.TrimSpace(p.Instruction); instr != "" {
		b.WriteString(instr)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "You are %s. Respond in character based on your previous responses.", p.Name)
	b.WriteString(LanguageInstruction(language))
	return b.String()
}

// Messages replays history as user (incoming) and assistant (self) messages
// followed by input as the final user message.
func Messages(history []types.Utterance, input string) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	for _, u := range history {
		role := types.RoleAssistant
		if u.Human {
			role = types.RoleUser
		}
		msgs = append(msgs, types.Message{Role: role, Content: u.Content})
	}
	return append(msgs, types.Message{Role: types.RoleUser, Content: input})
}
