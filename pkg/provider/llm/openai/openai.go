// Package openai provides an LLM provider backed by the OpenAI chat completions
// API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	"github.com/MrWong99/prophet/pkg/types"
)

const (
	// DefaultBaseURL is the public OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"
)

// Provider implements llm.Provider using the OpenAI API. A new SDK client is
// built for every call so that the API key is read once per request.
type Provider struct {
	model        string
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
	keys         types.KeySource
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(p *Provider) {
		p.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithKeySource makes the provider look up its API key on every call instead
// of using the key passed to [New].
func WithKeySource(src types.KeySource) Option {
	return func(p *Provider) {
		if src != nil {
			p.keys = src
		}
	}
}

// New constructs a new OpenAI LLM Provider. An empty apiKey is accepted; calls
// then fail with apierr.ErrMissingCredential until a key becomes available
// through [WithKeySource].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{
		model:   model,
		baseURL: DefaultBaseURL,
		keys:    types.StaticKey(apiKey),
	}
	for _, o := range opts {
		o(p)
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	return p, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	key := p.keys()
	if key == "" {
		return nil, fmt.Errorf("openai: %w", apierr.ErrMissingCredential)
	}
	if err := validateBaseURL(p.baseURL); err != nil {
		return nil, fmt.Errorf("openai: %w: %v", apierr.ErrInvalidEndpoint, err)
	}

	client := oai.NewClient(p.requestOptions(key)...)
	resp, err := client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: no choices", apierr.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// requestOptions assembles the SDK options for one call. Retries are disabled;
// failover is the job of the resilience layer.
func (p *Provider) requestOptions(key string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(0),
	}
	if p.organization != "" {
		opts = append(opts, option.WithOrganization(p.organization))
	}
	switch {
	case p.httpClient != nil:
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	case p.timeout > 0:
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	return opts
}

// classify maps an SDK error onto the apierr taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("openai: chat completion: %w", ctxErr)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: chat completion: %w", &apierr.StatusError{
			Provider: "openai",
			Code:     apiErr.StatusCode,
		})
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

// validateBaseURL rejects base URLs that cannot address an HTTP endpoint.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// modelCapabilities returns ModelCapabilities for known OpenAI model names.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps.MaxOutputTokens = 4_096
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
	}
	return caps
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
// Unknown roles are sent as user messages.
func convertMessage(m types.Message) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content)
	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	default:
		return oai.UserMessage(m.Content)
	}
}
