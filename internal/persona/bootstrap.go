package persona

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// DefaultVoiceID is assigned to bootstrap entries that carry no voiceId.
const DefaultVoiceID = "qz2CR9kDYsCbfTZ1lwy5"

// DefaultIcon is used for names missing from the icon table.
const DefaultIcon = "person.circle.fill"

// iconsByName maps well-known persona names (and their French spellings) to
// a symbolic icon.
var iconsByName = map[string]string{
	"j":                    "flame.fill",
	"jesus":                "flame.fill",
	"ged anen":             "eye.fill",
	"maitre eckhart":       "sparkles",
	"meister eckhart":      "sparkles",
	"krishnamurti":         "brain.head.profile",
	"nisagardatta maharaj": "sun.max.fill",
	"nisargadatta maharaj": "sun.max.fill",
	"marc aurèle":          "bolt.fill",
	"marcus aurelius":      "bolt.fill",
	"epicure":              "leaf.fill",
	"epicurus":             "leaf.fill",
	"bouddha":              "moon.stars.fill",
	"buddha":               "moon.stars.fill",
}

// IconFor returns the icon for name, or [DefaultIcon].
func IconFor(name string) string {
	if icon, ok := iconsByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return icon
	}
	return DefaultIcon
}

// Entry is one persona in a prophets.json bootstrap file.
type Entry struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	VoiceID  string `json:"voiceId,omitempty"`
	IconName string `json:"iconName,omitempty"`
}

// File is the top-level shape of a prophets.json bootstrap file.
type File struct {
	Prophets []Entry `json:"prophets"`
}

// ParseBootstrap decodes a bootstrap document from r.
func ParseBootstrap(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("persona: read bootstrap: %w", err)
	}
	var f File
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("persona: decode bootstrap: %w", err)
	}
	return f.Prophets, nil
}

// LoadBootstrap reads and decodes the bootstrap file at path.
func LoadBootstrap(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open bootstrap: %w", err)
	}
	defer f.Close()
	return ParseBootstrap(f)
}

// FromEntry converts a bootstrap entry into a new persona, filling in the
// default voice and the icon from the name table.
func FromEntry(e Entry) Persona {
	p := Persona{
		Name:        strings.TrimSpace(e.Name),
		Instruction: e.Prompt,
		VoiceID:     e.VoiceID,
		Icon:        e.IconName,
		Speed:       1,
	}
	if p.VoiceID == "" {
		p.VoiceID = DefaultVoiceID
	}
	if p.Icon == "" {
		p.Icon = IconFor(p.Name)
	}
	return p
}

// Seed creates one persona per entry when the store is empty. It returns the
// number of personas created. A populated store is left untouched so user
// edits survive restarts; use [Reseed] to force a reload.
func Seed(ctx context.Context, s Store, entries []Entry) (int, error) {
	existing, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	return create(ctx, s, entries)
}

// Reseed deletes every persona and recreates the set from entries.
func Reseed(ctx context.Context, s Store, entries []Entry) (int, error) {
	existing, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if err := s.Delete(ctx, p.ID); err != nil {
			return 0, err
		}
	}
	return create(ctx, s, entries)
}

func create(ctx context.Context, s Store, entries []Entry) (int, error) {
	n := 0
	for _, e := range entries {
		p := FromEntry(e)
		if err := s.Create(ctx, &p); err != nil {
			return n, fmt.Errorf("persona: seed %q: %w", e.Name, err)
		}
		n++
	}
	slog.Info("personas seeded", "count", n)
	return n, nil
}
