package persona

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleBootstrap = `{
  "prophets": [
    {"name": "Buddha", "prompt": "You are the Buddha."},
    {"name": "Epicurus", "prompt": "You are Epicurus.", "voiceId": "voice-epi", "iconName": "custom.icon"},
    {"name": "Somebody New", "prompt": "Hello."}
  ]
}`

func TestParseBootstrap(t *testing.T) {
	t.Parallel()

	entries, err := ParseBootstrap(strings.NewReader(sampleBootstrap))
	if err != nil {
		t.Fatalf("ParseBootstrap: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[1].VoiceID != "voice-epi" || entries[1].IconName != "custom.icon" {
		t.Fatalf("entry[1] = %+v", entries[1])
	}

	if _, err := ParseBootstrap(strings.NewReader("{not json")); err == nil {
		t.Fatal("ParseBootstrap should fail on invalid JSON")
	}
}

func TestFromEntry_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry     Entry
		wantVoice string
		wantIcon  string
	}{
		{Entry{Name: "Buddha"}, DefaultVoiceID, "moon.stars.fill"},
		{Entry{Name: "Marcus Aurelius"}, DefaultVoiceID, "bolt.fill"},
		{Entry{Name: "Epicurus", VoiceID: "v", IconName: "x"}, "v", "x"},
		{Entry{Name: "Unknown"}, DefaultVoiceID, DefaultIcon},
	}
	for _, tt := range tests {
		p := FromEntry(tt.entry)
		if p.VoiceID != tt.wantVoice || p.Icon != tt.wantIcon || p.Speed != 1 {
			t.Errorf("FromEntry(%q) = voice %q icon %q speed %v; want %q, %q, 1",
				tt.entry.Name, p.VoiceID, p.Icon, p.Speed, tt.wantVoice, tt.wantIcon)
		}
	}
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "prophets.json")
	if err := os.WriteFile(path, []byte(sampleBootstrap), 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := LoadBootstrap(path)
	if err != nil {
		t.Fatalf("LoadBootstrap: %v", err)
	}

	s := NewMemStore()
	n, err := Seed(ctx, s, entries)
	if err != nil || n != 3 {
		t.Fatalf("Seed() = %d, %v; want 3, nil", n, err)
	}
	n, err = Seed(ctx, s, entries)
	if err != nil || n != 0 {
		t.Fatalf("second Seed() = %d, %v; want 0, nil", n, err)
	}

	n, err = Reseed(ctx, s, entries[:1])
	if err != nil || n != 1 {
		t.Fatalf("Reseed() = %d, %v; want 1, nil", n, err)
	}
	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].Name != "Buddha" {
		t.Fatalf("List() after Reseed = %+v", list)
	}
}

func TestLoadBootstrap_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadBootstrap(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("LoadBootstrap should fail for a missing file")
	}
}
