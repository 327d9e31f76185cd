// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// The backend client is created per call so the API key can be looked up
// fresh for every request.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllm.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	"github.com/MrWong99/prophet/pkg/types"
)

// Supported lists the backend names accepted by [New].
var Supported = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// keyless backends run locally and accept requests without an API key.
var keyless = map[string]bool{"ollama": true, "llamacpp": true, "llamafile": true}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	name    string
	model   string
	baseURL string
	keys    types.KeySource
}

var _ llm.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithAPIKey sets a fixed API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.keys = types.StaticKey(key) }
}

// WithKeySource makes the provider consult src on every call.
func WithKeySource(src types.KeySource) Option {
	return func(p *Provider) {
		if src != nil {
			p.keys = src
		}
	}
}

// WithBaseURL overrides the backend's default endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of [Supported]. model is the specific model to use
// (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
func New(providerName string, model string, opts ...Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	name := strings.ToLower(providerName)
	if !isSupported(name) {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s", providerName, strings.Join(Supported, ", "))
	}

	p := &Provider{name: name, model: model, keys: types.StaticKey("")}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	key := p.keys()
	if key == "" && !keyless[p.name] {
		return nil, fmt.Errorf("anyllm %s: %w", p.name, apierr.ErrMissingCredential)
	}

	var opts []anyllmlib.Option
	if key != "" {
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}
	if p.baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(p.baseURL))
	}
	backend, err := createBackend(p.name, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm %s: %w: %v", p.name, apierr.ErrInvalidEndpoint, err)
	}

	resp, err := backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("anyllm %s: completion: %w", p.name, ctxErr)
		}
		return nil, fmt.Errorf("anyllm %s: completion: %w: %w", p.name, apierr.ErrRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm %s: %w: no choices", p.name, apierr.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func isSupported(name string) bool {
	for _, s := range Supported {
		if s == name {
			return true
		}
	}
	return false
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch providerName {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q", providerName)
	}
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func convertMessage(m types.Message) anyllmlib.Message {
	return anyllmlib.Message{
		Role:    m.Role,
		Content: m.Content,
		Name:    m.Name,
	}
}

// modelCapabilities returns ModelCapabilities based on known model names.
// Unknown models receive sensible defaults.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}

	lower := strings.ToLower(model)
	switch {
	// ── OpenAI ───────────────────────────────────────────────────────────────
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4-turbo"):
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000

	// ── Anthropic ────────────────────────────────────────────────────────────
	case strings.Contains(lower, "claude-3-opus"):
		caps.ContextWindow = 200_000
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192

	// ── Gemini ───────────────────────────────────────────────────────────────
	case strings.Contains(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
