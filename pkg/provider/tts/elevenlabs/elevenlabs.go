// Package elevenlabs provides an ElevenLabs-backed TTS provider. It implements
// the tts.Provider interface on top of the ElevenLabs REST API and can
// optionally stream over the stream-input WebSocket endpoint instead of the
// chunked HTTP response.
package elevenlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/types"
)

const (
	// DefaultBaseURL is the public ElevenLabs API root.
	DefaultBaseURL = "https://api.elevenlabs.io/v1"

	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// streamLatency is the optimize_streaming_latency level sent on streaming
	// requests. 4 is the most aggressive setting.
	streamLatency = 4

	readChunk    = 4096
	maxErrorBody = 512
)

// Transport selects how SynthesizeStream talks to ElevenLabs.
type Transport string

const (
	// TransportHTTP streams the chunked response of POST /text-to-speech/{voice}/stream.
	TransportHTTP Transport = "http"

	// TransportWebSocket streams over the /stream-input WebSocket endpoint.
	TransportWebSocket Transport = "websocket"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format requested over the WebSocket
// transport (e.g., "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithKeySource makes the provider look up its API key on every call.
func WithKeySource(src types.KeySource) Option {
	return func(p *Provider) {
		if src != nil {
			p.keys = src
		}
	}
}

// WithTransport selects the streaming transport. Unknown values fall back to
// [TransportHTTP].
func WithTransport(t Transport) Option {
	return func(p *Provider) {
		p.transport = t
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	baseURL      string
	model        string
	outputFormat string
	transport    Transport
	httpClient   *http.Client
	keys         types.KeySource
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. An empty apiKey is accepted; calls
// fail with apierr.ErrMissingCredential until a key is available.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		baseURL:      DefaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		transport:    TransportHTTP,
		httpClient:   &http.Client{},
		keys:         types.StaticKey(apiKey),
	}
	for _, o := range opts {
		o(p)
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.model == "" {
		return nil, errors.New("elevenlabs: model must not be empty")
	}
	return p, nil
}

// ---- request bodies ----

// speechRequest is the body of the text-to-speech endpoints.
type speechRequest struct {
	Text                     string        `json:"text"`
	ModelID                  string        `json:"model_id,omitempty"`
	VoiceSettings            voiceSettings `json:"voice_settings"`
	OptimizeStreamingLatency *int          `json:"optimize_streaming_latency,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func defaultVoiceSettings() voiceSettings {
	return voiceSettings{Stability: 0.5, SimilarityBoost: 0.5}
}

// ---- Synthesize ----

// Synthesize implements tts.Provider with a blocking POST /text-to-speech/{voice}.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	resp, err := p.postSpeech(ctx, text, voice, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("elevenlabs: synthesize: %w", ctxErr)
		}
		return nil, fmt.Errorf("elevenlabs: synthesize: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", apierr.ErrEmptyResponse)
	}
	return data, nil
}

// ---- SynthesizeStream ----

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Stream, error) {
	if p.transport == TransportWebSocket {
		return p.streamWebSocket(ctx, text, voice)
	}

	resp, err := p.postSpeech(ctx, text, voice, true)
	if err != nil {
		return nil, err
	}

	stream := tts.NewStream(0)
	go func() {
		defer resp.Body.Close()
		stream.Finish(pump(ctx, resp.Body, stream))
	}()
	return stream, nil
}

// pump copies r into s in arrival order until EOF, a read error or ctx
// cancellation.
func pump(ctx context.Context, r io.Reader, s *tts.Stream) error {
	for {
		buf := make([]byte, readChunk)
		n, err := r.Read(buf)
		if n > 0 && !s.Send(ctx, buf[:n]) {
			return fmt.Errorf("elevenlabs: stream: %w", ctx.Err())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("elevenlabs: stream: %w", ctxErr)
			}
			return fmt.Errorf("elevenlabs: stream: %w", err)
		}
	}
}

// postSpeech issues the blocking or streaming text-to-speech request and
// returns the response once a 2xx status has been received.
func (p *Provider) postSpeech(ctx context.Context, text string, voice types.VoiceProfile, stream bool) (*http.Response, error) {
	op := "synthesize"
	path := []string{"text-to-speech", voice.ID}
	if stream {
		op = "stream"
		path = append(path, "stream")
	}

	key := p.keys()
	if key == "" {
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, apierr.ErrMissingCredential)
	}
	if voice.ID == "" {
		return nil, fmt.Errorf("elevenlabs: %s: %w: voice ID must not be empty", op, apierr.ErrInvalidEndpoint)
	}
	endpoint, err := p.endpoint(path...)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, err)
	}

	body := speechRequest{
		Text:          text,
		ModelID:       p.model,
		VoiceSettings: defaultVoiceSettings(),
	}
	if stream {
		lat := streamLatency
		body.OptimizeStreamingLatency = &lat
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: encode body: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %s: %w: %v", op, apierr.ErrInvalidEndpoint, err)
	}
	req.Header.Set("xi-api-key", key)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := p.do(ctx, req, op)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	PreviewURL string            `json:"preview_url"`
	Labels     map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	key := p.keys()
	if key == "" {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", apierr.ErrMissingCredential)
	}
	endpoint, err := p.endpoint("voices")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w: %v", apierr.ErrInvalidEndpoint, err)
	}
	req.Header.Set("xi-api-key", key)
	req.Header.Set("Accept", "application/json")

	resp, err := p.do(ctx, req, "list voices")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: read body: %w", err)
	}
	profiles, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// ---- helpers ----

// do executes req and converts transport failures and non-2xx statuses into
// apierr-classified errors. On success the caller owns resp.Body.
func (p *Provider) do(ctx context.Context, req *http.Request, op string) (*http.Response, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("elevenlabs: %s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("elevenlabs: %s: %w", op, &apierr.StatusError{
			Provider: "elevenlabs",
			Code:     resp.StatusCode,
			Body:     string(bytes.TrimSpace(excerpt)),
		})
	}
	return resp, nil
}

// endpoint joins path segments onto the base URL.
func (p *Provider) endpoint(segments ...string) (string, error) {
	base, err := parseBase(p.baseURL)
	if err != nil {
		return "", err
	}
	return base.JoinPath(segments...).String(), nil
}

// parseBase validates the configured base URL.
func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrInvalidEndpoint, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", apierr.ErrInvalidEndpoint, raw)
	}
	return u, nil
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := sonic.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+2)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		if v.PreviewURL != "" {
			meta["preview_url"] = v.PreviewURL
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}
