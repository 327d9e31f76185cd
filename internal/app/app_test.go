package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/internal/resilience"
	"github.com/MrWong99/prophet/pkg/apierr"
	audiomock "github.com/MrWong99/prophet/pkg/audio/mock"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	llmmock "github.com/MrWong99/prophet/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/prophet/pkg/provider/tts/mock"
	"github.com/MrWong99/prophet/pkg/types"
)

const bootstrapJSON = `{"prophets": [
	{"name": "Plato", "prompt": "You founded the Academy."},
	{"name": "Aristotle", "prompt": "You studied under Plato.", "voiceId": "v-ari"},
	{"name": "Epicurus", "prompt": "You teach ataraxia."}
]}`

// testConfig returns a config with a bootstrap file and no pauses.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prophets.json")
	if err := os.WriteFile(path, []byte(bootstrapJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Playback: config.PlaybackConfig{
			TurnPause: -1,
			SeedPause: -1,
		},
		Personas: config.PersonasConfig{Bootstrap: path},
		Arena:    config.ArenaConfig{MaxTurns: 2},
	}
}

// testProviders returns providers whose LLM always answers "Indeed.".
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Indeed."}},
		TTS: &ttsmock.Provider{},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *audiomock.Player, *archive.MemStore) {
	t.Helper()
	player := &audiomock.Player{}
	arch := &archive.MemStore{}
	opts = append([]app.Option{app.WithPlayer(player), app.WithArchive(arch)}, opts...)
	a, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, player, arch
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := app.New(context.Background(), cfg, &app.Providers{TTS: &ttsmock.Provider{}}); err == nil {
		t.Error("New() without LLM: expected error")
	}
	if _, err := app.New(context.Background(), cfg, &app.Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("New() without TTS: expected error")
	}
}

func TestNew_SeedsBootstrapAndDefaultPair(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig(t))

	list, err := a.Personas().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("personas = %d, want 3", len(list))
	}
	if list[0].VoiceID != persona.DefaultVoiceID {
		t.Errorf("default voice = %q, want %q", list[0].VoiceID, persona.DefaultVoiceID)
	}

	snap := a.Arena().Snapshot()
	if snap.Personas[0].Name != "Plato" || snap.Personas[1].Name != "Aristotle" {
		t.Errorf("default pair = %q/%q, want Plato/Aristotle", snap.Personas[0].Name, snap.Personas[1].Name)
	}
	if snap.State != arena.StateSetup {
		t.Errorf("state = %v, want setup", snap.State)
	}
}

func TestNew_ConfiguredPair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		a, b         string
		wantA, wantB string
	}{
		{name: "both", a: "epicurus", b: "plato", wantA: "Epicurus", wantB: "Plato"},
		{name: "only first", a: "Plato", wantA: "Plato", wantB: "Aristotle"},
		{name: "only first taking second slot", a: "Aristotle", wantA: "Aristotle", wantB: "Plato"},
		{name: "only second", b: "Plato", wantA: "Aristotle", wantB: "Plato"},
		{name: "fuzzy", a: "Aristotel", b: "Epicure", wantA: "Aristotle", wantB: "Epicurus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			cfg.Arena.PersonaA, cfg.Arena.PersonaB = tt.a, tt.b
			a, _, _ := newApp(t, cfg)

			snap := a.Arena().Snapshot()
			if snap.Personas[0].Name != tt.wantA || snap.Personas[1].Name != tt.wantB {
				t.Errorf("pair = %q/%q, want %q/%q",
					snap.Personas[0].Name, snap.Personas[1].Name, tt.wantA, tt.wantB)
			}
		})
	}
}

func TestNew_BadBootstrap(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Personas: config.PersonasConfig{Bootstrap: filepath.Join(t.TempDir(), "missing.json")}}
	if _, err := app.New(context.Background(), cfg, testProviders()); err == nil {
		t.Fatal("New() with missing bootstrap: expected error")
	}
}

func TestApp_StartArena(t *testing.T) {
	t.Parallel()

	a, player, arch := newApp(t, testConfig(t))

	if err := a.StartArena(context.Background(), "Epicurus", "", "pleasure"); err != nil {
		t.Fatalf("StartArena: %v", err)
	}
	if err := a.Arena().Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	snap := a.Arena().Snapshot()
	if snap.Personas[0].Name != "Epicurus" || snap.Personas[1].Name != "Aristotle" {
		t.Errorf("pair = %q/%q, want Epicurus/Aristotle", snap.Personas[0].Name, snap.Personas[1].Name)
	}
	// Topic line plus the seed reply and two turns.
	if len(snap.Transcript) != 4 {
		t.Errorf("transcript lines = %d, want 4", len(snap.Transcript))
	}
	if got := len(player.Played()); got != 3 {
		t.Errorf("played clips = %d, want 3", got)
	}

	convs, err := arch.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Subject != "pleasure" {
		t.Errorf("archive = %+v, want one conversation about pleasure", convs)
	}
}

func TestApp_StartArena_Errors(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig(t))

	if err := a.StartArena(context.Background(), "", "", "  "); !errors.Is(err, arena.ErrEmptyTopic) {
		t.Errorf("blank topic: err = %v, want ErrEmptyTopic", err)
	}
	if err := a.StartArena(context.Background(), "Zarathustra", "", "fire"); !errors.Is(err, app.ErrPersonaNotFound) {
		t.Errorf("unknown persona: err = %v, want ErrPersonaNotFound", err)
	}
	if err := a.StartArena(context.Background(), "Plato", "Plato", "forms"); !errors.Is(err, arena.ErrSamePersona) {
		t.Errorf("same persona: err = %v, want ErrSamePersona", err)
	}
}

func TestApp_ChatStopsArenaAndArchivesOnShutdown(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{}
	arch := &archive.MemStore{}
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithPlayer(player), app.WithArchive(arch))
	if err != nil {
		t.Fatal(err)
	}

	u, err := a.Chat(context.Background(), "plato", "What is justice?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if u.Content != "Indeed." || u.Human {
		t.Errorf("reply = %+v, want persona line %q", u, "Indeed.")
	}
	if err := a.Chats().Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if got := player.Played(); len(got) != 1 || got[0] != "Indeed." {
		t.Errorf("played = %q, want [Indeed.]", got)
	}
	if info := a.Chats().Info(); info.PersonaName != "Plato" {
		t.Errorf("session persona = %q, want Plato", info.PersonaName)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	convs, _ := arch.List(context.Background(), 0)
	if len(convs) != 1 || convs[0].Subject != "Chat with Plato" {
		t.Fatalf("archive = %+v, want the chat", convs)
	}
	if got := convs[0].Transcript; len(got) != 2 || !got[0].Human {
		t.Errorf("archived transcript = %+v", got)
	}
}

func TestApp_ResolvePersona(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig(t))
	p, err := a.ResolvePersona(context.Background(), "ARISTOTLE")
	if err != nil || p.Name != "Aristotle" {
		t.Errorf("ResolvePersona = %q, %v, want Aristotle", p.Name, err)
	}
	if _, err := a.ResolvePersona(context.Background(), "nobody at all"); !errors.Is(err, app.ErrPersonaNotFound) {
		t.Errorf("err = %v, want ErrPersonaNotFound", err)
	}
}

func TestApp_Voices(t *testing.T) {
	t.Parallel()

	voices := []types.VoiceProfile{{ID: "v1", Name: "Rachel"}}
	providers := testProviders()
	providers.TTS = &ttsmock.Provider{ListVoicesResult: voices}
	a, err := app.New(context.Background(), &config.Config{}, providers, app.WithPlayer(&audiomock.Player{}))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	got, err := a.Voices(context.Background())
	if err != nil || len(got) != 1 || got[0].ID != "v1" {
		t.Errorf("Voices = %+v, %v", got, err)
	}
}

func TestApp_ApplyConfigUpdatesPacing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, _, _ := newApp(t, cfg)

	next := *cfg
	next.Playback.TurnPause = 2 * time.Second
	// Must not panic and must leave the app usable.
	a.ApplyConfig(config.Diff(cfg, &next))
	if err := a.StartArena(context.Background(), "", "", "time"); err != nil {
		t.Fatal(err)
	}
	a.Arena().Stop()
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithPlayer(&audiomock.Player{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithPlayer(&audiomock.Player{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown(cancelled) = %v, want context.Canceled", err)
	}
}

func TestNew_FallbackReadiness(t *testing.T) {
	t.Parallel()

	broken := &llmmock.Provider{CompleteErr: apierr.ErrRequestFailed}
	group := resilience.NewLLMFallback(broken, "broken", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	providers := testProviders()
	providers.LLM = group

	a, err := app.New(context.Background(), testConfig(t), providers,
		app.WithPlayer(&audiomock.Player{}), app.WithArchive(&archive.MemStore{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ctx := waitCtx(t)
	if rep := a.Health().Run(ctx); !rep.OK() || rep.Checks["llm"] != "ok" {
		t.Fatalf("report before failure = %+v", rep)
	}
	if _, err := a.Chat(ctx, "Plato", "What is justice?"); err == nil {
		t.Fatal("Chat with a broken provider: want error")
	}
	if rep := a.Health().Run(ctx); rep.OK() || rep.Checks["llm"] == "ok" {
		t.Errorf("report after the breaker opened = %+v", rep)
	}
	if _, ok := a.Health().Run(ctx).Checks["tts"]; ok {
		t.Error("a plain TTS provider must not register a readiness check")
	}
}
