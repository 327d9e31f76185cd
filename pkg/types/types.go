// Package types defines the shared types used across Prophet packages.
//
// These types are the common vocabulary between the provider gateways, the
// speech pipeline and the conversation orchestrator. Each package keeps its own
// domain types; only cross-cutting data structures live here to avoid import
// cycles.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role values used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message sent to an LLM backend.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// Utterance is one line of a conversation. Utterances are append-only once
// created.
//
// In a persona's private history the Human flag carries the point of view:
// the persona's own lines have Human == false ("self"), every line it received
// from someone else has Human == true ("incoming").
type Utterance struct {
	// ID uniquely identifies the utterance.
	ID string `json:"id"`

	// Content is the spoken or typed text.
	Content string `json:"content"`

	// PersonaID references the persona that produced the line. Empty for lines
	// produced by the human user or the system.
	PersonaID string `json:"persona_id,omitempty"`

	// Timestamp is when the utterance was created.
	Timestamp time.Time `json:"timestamp"`

	// Human marks human-authored (or, in a private history, incoming) lines.
	Human bool `json:"human"`
}

// NewUtterance returns an utterance with a fresh ID and the current time.
func NewUtterance(content, personaID string, human bool) Utterance {
	return Utterance{
		ID:        uuid.NewString(),
		Content:   content,
		PersonaID: personaID,
		Timestamp: time.Now(),
		Human:     human,
	}
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`

	// SpeedFactor adjusts playback rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64 `json:"speed_factor,omitempty"`

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// KeySource returns the API key to use for the next provider request. It is
// consulted once per call so that credential changes apply without a restart.
type KeySource func() string

// StaticKey returns a [KeySource] that always yields key.
func StaticKey(key string) KeySource {
	return func() string { return key }
}
