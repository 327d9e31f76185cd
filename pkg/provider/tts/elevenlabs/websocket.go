package elevenlabs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/types"
)

// wsReadLimit bounds a single server frame. Audio frames carry base64 encoded
// clips and regularly exceed the library default.
const wsReadLimit = 4 << 20

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text is the end-of-input marker.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// streamWebSocket runs one synthesis over the stream-input endpoint: the whole
// text is sent as a single fragment followed by the end-of-input marker, and
// audio frames are forwarded to the returned stream until the server reports
// the final frame.
func (p *Provider) streamWebSocket(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Stream, error) {
	key := p.keys()
	if key == "" {
		return nil, fmt.Errorf("elevenlabs: stream: %w", apierr.ErrMissingCredential)
	}
	if voice.ID == "" {
		return nil, fmt.Errorf("elevenlabs: stream: %w: voice ID must not be empty", apierr.ErrInvalidEndpoint)
	}
	wsURL, err := p.wsURL(voice.ID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: stream: %w", err)
	}

	header := http.Header{}
	header.Set("xi-api-key", key)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("elevenlabs: dial: %w", ctxErr)
		}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("elevenlabs: dial: %w", &apierr.StatusError{Provider: "elevenlabs", Code: resp.StatusCode})
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	vs := defaultVoiceSettings()
	frames := []any{
		boiMessage{Text: " ", VoiceSettings: &vs, XiAPIKey: key},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""},
	}
	for _, f := range frames {
		if err := writeJSON(ctx, conn, f); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	stream := tts.NewStream(0)
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		stream.Finish(readAudio(ctx, conn, stream))
	}()
	return stream, nil
}

// readAudio forwards decoded audio frames until the final frame, a server
// error, a normal close, or ctx cancellation.
func readAudio(ctx context.Context, conn *websocket.Conn, s *tts.Stream) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("elevenlabs: stream: %w", ctxErr)
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: stream: %w", err)
		}

		var resp audioResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: stream: %w: %s", apierr.ErrRequestFailed, resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: stream: decode audio: %w", err)
			}
			if !s.Send(ctx, chunk) {
				return fmt.Errorf("elevenlabs: stream: %w", ctx.Err())
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// wsURL builds the stream-input URL for voiceID from the configured base URL.
func (p *Provider) wsURL(voiceID string) (string, error) {
	u, err := parseBase(p.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u = u.JoinPath("text-to-speech", voiceID, "stream-input")
	q := u.Query()
	q.Set("model_id", p.model)
	if p.outputFormat != "" {
		q.Set("output_format", p.outputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
