package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/types"
)

var moses = types.VoiceProfile{ID: "qz2CR9kDYsCbfTZ1lwy5", Name: "Moses"}

// recordedRequest captures what the test server saw.
type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

type recorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (r *recorder) add(req *http.Request) {
	var body map[string]any
	if data, _ := io.ReadAll(req.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, recordedRequest{Method: req.Method, Path: req.URL.Path, Header: req.Header.Clone(), Body: body})
}

func (r *recorder) last(t *testing.T) recordedRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		t.Fatal("no request recorded")
	}
	return r.reqs[len(r.reqs)-1]
}

func newProvider(t *testing.T, baseURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New("xi-test", append([]Option{WithBaseURL(baseURL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ── Synthesize ────────────────────────────────────────────────────────────────

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL+"/v1", WithModel("eleven_multilingual_v2"))
	got, err := p.Synthesize(context.Background(), "Hear me.", moses)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "ID3-fake-mp3" {
		t.Fatalf("Synthesize() = %q, want %q", got, "ID3-fake-mp3")
	}

	req := rec.last(t)
	if req.Method != http.MethodPost {
		t.Fatalf("Method = %s, want POST", req.Method)
	}
	if want := "/v1/text-to-speech/" + moses.ID; req.Path != want {
		t.Fatalf("Path = %q, want %q", req.Path, want)
	}
	if got := req.Header.Get("xi-api-key"); got != "xi-test" {
		t.Fatalf("xi-api-key = %q, want xi-test", got)
	}
	if req.Body["text"] != "Hear me." {
		t.Fatalf("text = %v, want %q", req.Body["text"], "Hear me.")
	}
	if req.Body["model_id"] != "eleven_multilingual_v2" {
		t.Fatalf("model_id = %v, want eleven_multilingual_v2", req.Body["model_id"])
	}
	if _, ok := req.Body["optimize_streaming_latency"]; ok {
		t.Fatal("blocking request must not set optimize_streaming_latency")
	}
	vs, _ := req.Body["voice_settings"].(map[string]any)
	if vs["stability"] != 0.5 || vs["similarity_boost"] != 0.5 {
		t.Fatalf("voice_settings = %v, want stability 0.5 and similarity_boost 0.5", vs)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") == "empty" {
			return
		}
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name    string
		key     string
		baseURL string
		voice   types.VoiceProfile
		want    error
	}{
		{"missing key", "", srv.URL, moses, apierr.ErrMissingCredential},
		{"bad base url", "k", "::not-a-url", moses, apierr.ErrInvalidEndpoint},
		{"relative base url", "k", "/v1", moses, apierr.ErrInvalidEndpoint},
		{"missing voice", "k", srv.URL, types.VoiceProfile{}, apierr.ErrInvalidEndpoint},
		{"status", "k", srv.URL, moses, apierr.ErrRequestFailed},
		{"empty body", "empty", srv.URL, moses, apierr.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := New(tt.key, WithBaseURL(tt.baseURL))
			_, err := p.Synthesize(context.Background(), "x", tt.voice)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Synthesize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSynthesize_StatusErrorKeepsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "x", moses)

	var se *apierr.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v does not carry a StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests || se.Body != "quota exceeded" {
		t.Fatalf("StatusError = %+v, want code 429 and body %q", se, "quota exceeded")
	}
}

func TestProvider_KeyIsReadPerCall(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	var mu sync.Mutex
	key := "one"
	p, _ := New("", WithBaseURL(srv.URL), WithKeySource(func() string {
		mu.Lock()
		defer mu.Unlock()
		return key
	}))

	if _, err := p.Synthesize(context.Background(), "a", moses); err != nil {
		t.Fatalf("Synthesize #1: %v", err)
	}
	mu.Lock()
	key = "two"
	mu.Unlock()
	if _, err := p.Synthesize(context.Background(), "b", moses); err != nil {
		t.Fatalf("Synthesize #2: %v", err)
	}
	if got := rec.last(t).Header.Get("xi-api-key"); got != "two" {
		t.Fatalf("xi-api-key = %q, want two", got)
	}
}

// ── SynthesizeStream (HTTP) ───────────────────────────────────────────────────

func TestSynthesizeStream_HTTP(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		flusher, _ := w.(http.Flusher)
		for _, part := range []string{"frame1-", "frame2-", "frame3"} {
			_, _ = w.Write([]byte(part))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL+"/v1")
	stream, err := p.SynthesizeStream(context.Background(), "Blessed are the meek.", moses)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got, err := stream.Collect()
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if string(got) != "frame1-frame2-frame3" {
		t.Fatalf("audio = %q, want %q", got, "frame1-frame2-frame3")
	}

	req := rec.last(t)
	if want := "/v1/text-to-speech/" + moses.ID + "/stream"; req.Path != want {
		t.Fatalf("Path = %q, want %q", req.Path, want)
	}
	if got := req.Header.Get("Accept"); got != "audio/mpeg" {
		t.Fatalf("Accept = %q, want audio/mpeg", got)
	}
	if req.Body["optimize_streaming_latency"] != float64(4) {
		t.Fatalf("optimize_streaming_latency = %v, want 4", req.Body["optimize_streaming_latency"])
	}
}

func TestSynthesizeStream_HTTPStatusFailsUpFront(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	stream, err := p.SynthesizeStream(context.Background(), "x", moses)
	if stream != nil {
		t.Fatal("stream should be nil on a failed start")
	}
	if !errors.Is(err, apierr.ErrRequestFailed) {
		t.Fatalf("SynthesizeStream() error = %v, want ErrRequestFailed", err)
	}
}

func TestSynthesizeStream_CancelMidStream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := newProvider(t, srv.URL)
	stream, err := p.SynthesizeStream(ctx, "x", moses)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if first := <-stream.Audio(); string(first) != "first" {
		t.Fatalf("first chunk = %q, want first", first)
	}
	cancel()
	for range stream.Audio() {
	}
	if err := stream.Err(); !apierr.IsCancellation(err) {
		t.Fatalf("stream.Err() = %v, want a cancellation", err)
	}
}

// ── SynthesizeStream (WebSocket) ──────────────────────────────────────────────

func TestSynthesizeStream_WebSocket(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []map[string]any
		query    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.RawQuery
		mu.Unlock()

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		for i := 0; i < 3; i++ {
			_, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(msg, &m)
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
		}
		for _, part := range []string{"ws-one ", "ws-two"} {
			frame, _ := json.Marshal(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte(part))})
			_ = c.Write(r.Context(), websocket.MessageText, frame)
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"isFinal":true}`))
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL+"/v1", WithTransport(TransportWebSocket))
	stream, err := p.SynthesizeStream(context.Background(), "Peace be with you.", moses)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got, err := stream.Collect()
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if string(got) != "ws-one ws-two" {
		t.Fatalf("audio = %q, want %q", got, "ws-one ws-two")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("server received %d frames, want 3", len(received))
	}
	if received[0]["xi_api_key"] != "xi-test" {
		t.Fatalf("BOI xi_api_key = %v, want xi-test", received[0]["xi_api_key"])
	}
	if text, _ := received[1]["text"].(string); !strings.HasPrefix(text, "Peace be with you.") {
		t.Fatalf("text frame = %q, want the synthesized sentence", text)
	}
	if received[2]["text"] != "" {
		t.Fatalf("last frame text = %v, want the empty end-of-input marker", received[2]["text"])
	}
	if !strings.Contains(query, "model_id="+defaultModel) {
		t.Fatalf("query = %q, want model_id=%s", query, defaultModel)
	}
}

func TestSynthesizeStream_WebSocketServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for i := 0; i < 3; i++ {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"error":"quota_exceeded","message":"out of credits"}`))
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, WithTransport(TransportWebSocket))
	stream, err := p.SynthesizeStream(context.Background(), "x", moses)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if _, err := stream.Collect(); !errors.Is(err, apierr.ErrRequestFailed) {
		t.Fatalf("stream error = %v, want ErrRequestFailed", err)
	}
}

func TestWSURL(t *testing.T) {
	t.Parallel()

	p, _ := New("k", WithOutputFormat("pcm_16000"))
	got, err := p.wsURL("abc")
	if err != nil {
		t.Fatalf("wsURL: %v", err)
	}
	want := "wss://api.elevenlabs.io/v1/text-to-speech/abc/stream-input?model_id=eleven_flash_v2_5&output_format=pcm_16000"
	if got != want {
		t.Fatalf("wsURL() = %q, want %q", got, want)
	}
}

// ── ListVoices ────────────────────────────────────────────────────────────────

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","category":"premade","preview_url":"https://example.com/p.mp3","labels":{"accent":"american"}},
			{"voice_id":"v2","name":"Clyde"}
		]}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL+"/v1")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("len(voices) = %d, want 2", len(voices))
	}
	if voices[0].ID != "v1" || voices[0].Name != "Rachel" || voices[0].Provider != "elevenlabs" {
		t.Fatalf("voices[0] = %+v", voices[0])
	}
	if voices[0].Metadata["accent"] != "american" || voices[0].Metadata["category"] != "premade" {
		t.Fatalf("voices[0].Metadata = %v", voices[0].Metadata)
	}
	if len(voices[1].Metadata) != 0 {
		t.Fatalf("voices[1].Metadata = %v, want empty", voices[1].Metadata)
	}
}

func TestListVoices_MissingKey(t *testing.T) {
	t.Parallel()

	p, _ := New("")
	if _, err := p.ListVoices(context.Background()); !errors.Is(err, apierr.ErrMissingCredential) {
		t.Fatalf("ListVoices() error = %v, want ErrMissingCredential", err)
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := parseVoicesResponse([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("k")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.baseURL != DefaultBaseURL || p.model != defaultModel || p.transport != TransportHTTP {
		t.Fatalf("defaults = %q/%q/%q", p.baseURL, p.model, p.transport)
	}
	if _, err := New("k", WithModel("")); err == nil {
		t.Fatal("New with an empty model should fail")
	}
}
