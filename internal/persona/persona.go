// Package persona provides storage and lookup for prophet personas. A
// [Persona] is the full configuration of one conversational character: its
// display name, behavioural instruction, voice and playback speed.
//
// The primary abstraction is the [Store] interface. [MemStore] keeps personas
// in memory; [PostgresStore] persists them in a personas table. Both can be
// seeded from a prophets.json file with [Seed].
//
// The conversation orchestrator never mutates personas: it takes value
// snapshots when a conversation starts.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/prophet/pkg/types"
)

// Sentinel errors returned by [Store] implementations.
var (
	ErrInvalid   = errors.New("persona: invalid persona")
	ErrNotFound  = errors.New("persona: not found")
	ErrDuplicate = errors.New("persona: duplicate id")
)

// Speed bounds accepted by [Persona.Validate].
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Persona is one conversational character.
type Persona struct {
	// ID is a UUID string. It never changes once assigned.
	ID string `json:"id"`

	// Name is the display name, also used in the system prompt.
	Name string `json:"name"`

	// Instruction is the behavioural system prompt.
	Instruction string `json:"instruction"`

	// VoiceID is the TTS voice identifier.
	VoiceID string `json:"voice_id"`

	// Icon is an optional symbolic icon name.
	Icon string `json:"icon,omitempty"`

	// Speed is the playback multiplier. Zero means 1.0.
	Speed float64 `json:"speed"`

	// Metadata holds arbitrary key/value attributes.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate returns a joined error describing every violation found, or nil.
// A non-nil result matches [ErrInvalid] with errors.Is.
func (p *Persona) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("persona: name must not be empty"))
	}
	if strings.TrimSpace(p.VoiceID) == "" {
		errs = append(errs, errors.New("persona: voice_id must not be empty"))
	}
	if p.Speed != 0 && (p.Speed < MinSpeed || p.Speed > MaxSpeed) {
		errs = append(errs, fmt.Errorf("persona: speed must be in [%g, %g], got %g", MinSpeed, MaxSpeed, p.Speed))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalid}, errs...)...)
}

// PlaybackSpeed returns Speed, defaulting to 1.0.
func (p Persona) PlaybackSpeed() float64 {
	if p.Speed == 0 {
		return 1
	}
	return p.Speed
}

// Voice converts the persona into the voice profile handed to the TTS gateway.
func (p Persona) Voice() types.VoiceProfile {
	return types.VoiceProfile{
		ID:          p.VoiceID,
		Name:        p.Name,
		SpeedFactor: p.PlaybackSpeed(),
	}
}

// Store provides CRUD operations for personas.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new persona. An empty ID is replaced with a fresh
	// UUID. Returns an error if a persona with the same ID already exists.
	Create(ctx context.Context, p *Persona) error

	// Get retrieves a persona by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Persona, error)

	// Update replaces an existing persona. Returns an error if it is not found.
	Update(ctx context.Context, p *Persona) error

	// Delete removes a persona by ID. Deleting a missing persona is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all personas in creation order.
	List(ctx context.Context) ([]Persona, error)

	// Upsert creates or replaces a persona.
	Upsert(ctx context.Context, p *Persona) error
}
