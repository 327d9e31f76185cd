// Package app wires all prophet subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, the arena and chat entry points drive conversations, and
// Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithPersonaStore,
// WithArchive, WithPlayer, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/converse"
	"github.com/MrWong99/prophet/internal/health"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/internal/speech"
	"github.com/MrWong99/prophet/pkg/audio"
	"github.com/MrWong99/prophet/pkg/audio/execplayer"
	"github.com/MrWong99/prophet/pkg/provider/llm"
	"github.com/MrWong99/prophet/pkg/provider/tts"
	"github.com/MrWong99/prophet/pkg/types"
)

// ErrPersonaNotFound is returned when a persona query matches nobody.
var ErrPersonaNotFound = errors.New("app: persona not found")

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider

	// LLMName and TTSName label metrics and logs. Empty means "llm"/"tts".
	LLMName string
	TTSName string
}

// readinessChecker is implemented by providers that can tell whether they
// would currently accept requests.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	settings  *config.Settings
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	pools    map[string]*pgxpool.Pool
	personas persona.Store
	archive  archive.Store
	player   audio.Player
	gateway  *converse.Gateway
	speaker  *speech.Speaker
	arena    *arena.Arena
	chats    *SessionManager
	health   *health.Handler
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPersonaStore injects a persona store instead of creating one from config.
func WithPersonaStore(s persona.Store) Option {
	return func(a *App) { a.personas = s }
}

// WithArchive injects a conversation archive instead of creating one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithPlayer injects an audio player instead of spawning the configured command.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithSettings injects the live settings, typically backed by a config
// watcher. Defaults to the static config passed to New.
func WithSettings(s *config.Settings) Option {
	return func(a *App) { a.settings = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.TTS == nil {
		return nil, errors.New("app: a TTS provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		pools:     make(map[string]*pgxpool.Pool),
	}
	for _, o := range opts {
		o(a)
	}
	if a.settings == nil {
		a.settings = config.StaticSettings(cfg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Persona store ─────────────────────────────────────────────────
	if err := a.initPersonas(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init personas: %w", err)
	}

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Gateways ──────────────────────────────────────────────────────
	a.initGateways()

	// ── 4. Arena + chat ──────────────────────────────────────────────────
	a.arena = arena.New(arena.Config{
		LLM:       a.gateway,
		Voice:     a.speaker,
		TurnPause: cfg.Playback.TurnPause,
		SeedPause: cfg.Playback.SeedPause,
		MaxTurns:  cfg.Arena.MaxTurns,
		Archive:   a.archive,
		Metrics:   a.metrics,
	})
	a.chats = NewSessionManager(SessionManagerConfig{
		LLM:     a.gateway,
		Voice:   a.speaker,
		Archive: a.archive,
		Metrics: a.metrics,
	})
	// Closers run in order: conversations stop before the speaker closes.
	a.closers = append([]func() error{
		func() error { a.arena.Stop(); return nil },
		func() error {
			if err := a.chats.Stop(context.Background()); err != nil && !errors.Is(err, ErrNoChat) {
				return err
			}
			return nil
		},
	}, a.closers...)

	if err := a.initDefaultPair(ctx); err != nil {
		slog.Warn("no default persona pair", "err", err)
	}

	// ── 5. Health ────────────────────────────────────────────────────────
	// Failover groups report unready once every backend's breaker is open.
	if c, ok := providers.LLM.(readinessChecker); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "llm", Check: c.Check})
	}
	if c, ok := providers.TTS.(readinessChecker); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "tts", Check: c.Check})
	}
	a.health = health.New(a.checkers...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPersonas sets up the persona store and seeds it from the bootstrap file.
func (a *App) initPersonas(ctx context.Context) error {
	if a.personas == nil {
		if dsn := a.cfg.Personas.PostgresDSN; dsn != "" {
			pool, err := a.pool(ctx, dsn)
			if err != nil {
				return err
			}
			store := persona.NewPostgresStore(pool)
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			a.personas = store
			a.checkers = append(a.checkers, health.Checker{Name: "personas", Check: store.Ping})
		} else {
			a.personas = persona.NewMemStore()
		}
	}

	if path := a.cfg.Personas.Bootstrap; path != "" {
		entries, err := persona.LoadBootstrap(path)
		if err != nil {
			return err
		}
		n, err := persona.Seed(ctx, a.personas, entries)
		if err != nil {
			return err
		}
		slog.Info("loaded persona bootstrap", "path", path, "entries", len(entries), "created", n)
	}
	return nil
}

// initArchive sets up the conversation archive. Without a DSN the archive is
// kept in memory for the lifetime of the process.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.archive = &archive.MemStore{}
		return nil
	}
	pool, err := a.pool(ctx, dsn)
	if err != nil {
		return err
	}
	store := archive.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.archive = store
	return nil
}

// pool returns the connection pool for dsn, opening it on first use so that
// personas and archive share one pool when they share a database.
func (a *App) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if p, ok := a.pools[dsn]; ok {
		return p, nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.pools[dsn] = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.checkers = append(a.checkers, health.Checker{
		Name:  fmt.Sprintf("database-%d", len(a.pools)),
		Check: pool.Ping,
	})
	return pool, nil
}

// initGateways builds the conversation and speech gateways.
func (a *App) initGateways() {
	llmName := a.providers.LLMName
	if llmName == "" {
		llmName = "llm"
	}
	ttsName := a.providers.TTSName
	if ttsName == "" {
		ttsName = "tts"
	}

	a.gateway = converse.New(a.providers.LLM,
		converse.WithSettings(a.settings),
		converse.WithTemperature(a.cfg.Converse.TemperatureOrDefault()),
		converse.WithMaxTokens(a.cfg.Converse.MaxTokens),
		converse.WithProviderName(llmName),
		converse.WithMetrics(a.metrics),
	)

	if a.player == nil {
		pc := a.cfg.Playback.Player
		a.player = execplayer.New(execplayer.WithCommand(pc.Command, pc.Args...))
	}
	a.speaker = speech.New(a.providers.TTS, a.player,
		speech.WithSettings(a.settings),
		speech.WithProviderName(ttsName),
		speech.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.speaker.Close)
}

// initDefaultPair selects the configured arena personas, or the first two
// in the store when none are configured.
func (a *App) initDefaultPair(ctx context.Context) error {
	list, err := a.personas.List(ctx)
	if err != nil {
		return err
	}
	if len(list) < 2 {
		return fmt.Errorf("need two personas, have %d", len(list))
	}
	first, second := list[0], list[1]
	if q := a.cfg.Arena.PersonaA; q != "" {
		if first, err = resolveIn(list, q); err != nil {
			return err
		}
	}
	if q := a.cfg.Arena.PersonaB; q != "" {
		if second, err = resolveIn(list, q); err != nil {
			return err
		}
	}
	// Fill an unconfigured slot with the first persona not taken by the other.
	if first.ID == second.ID {
		for _, p := range list {
			if p.ID == first.ID {
				continue
			}
			if a.cfg.Arena.PersonaA == "" {
				first = p
			} else {
				second = p
			}
			break
		}
	}
	return a.arena.SetPersonas(first, second)
}

func resolveIn(list []persona.Persona, query string) (persona.Persona, error) {
	p, ok := persona.Resolve(list, query)
	if !ok {
		return persona.Persona{}, fmt.Errorf("%w: %q", ErrPersonaNotFound, query)
	}
	return p, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Personas returns the persona store.
func (a *App) Personas() persona.Store { return a.personas }

// Archive returns the conversation archive.
func (a *App) Archive() archive.Store { return a.archive }

// Arena returns the two-persona conversation runner.
func (a *App) Arena() *arena.Arena { return a.arena }

// Chats returns the chat session manager.
func (a *App) Chats() *SessionManager { return a.chats }

// Health returns the health handler with one checker per database.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metrics instruments in use.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ResolvePersona finds the persona named by query using [persona.Resolve].
func (a *App) ResolvePersona(ctx context.Context, query string) (persona.Persona, error) {
	list, err := a.personas.List(ctx)
	if err != nil {
		return persona.Persona{}, fmt.Errorf("app: list personas: %w", err)
	}
	return resolveIn(list, query)
}

// Playing reports whether the shared speaker has audio playing or queued.
func (a *App) Playing() bool { return a.speaker.Playing() }

// Voices lists the voices offered by the TTS provider.
func (a *App) Voices(ctx context.Context) ([]types.VoiceProfile, error) {
	return a.providers.TTS.ListVoices(ctx)
}

// ─── Conversations ───────────────────────────────────────────────────────────

// StartArena resolves both personas and starts a conversation about topic.
// An empty query keeps the current participant in that slot. Any running
// chat is ended first since both share one audio output.
func (a *App) StartArena(ctx context.Context, first, second, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return arena.ErrEmptyTopic
	}
	snap := a.arena.Snapshot()
	pa, pb := snap.Personas[0], snap.Personas[1]
	var err error
	if first != "" {
		if pa, err = a.ResolvePersona(ctx, first); err != nil {
			return err
		}
	}
	if second != "" {
		if pb, err = a.ResolvePersona(ctx, second); err != nil {
			return err
		}
	}

	_ = a.chats.Stop(ctx)
	a.arena.Stop()
	if err := a.arena.SetPersonas(pa, pb); err != nil {
		return err
	}
	return a.arena.Start(ctx, topic)
}

// RestartArena stops the chat and restarts the arena with its last topic.
func (a *App) RestartArena(ctx context.Context) error {
	_ = a.chats.Stop(ctx)
	return a.arena.Restart(ctx)
}

// Chat sends text to the persona named by query. A running arena is stopped
// first since both share one audio output.
func (a *App) Chat(ctx context.Context, query, text string) (types.Utterance, error) {
	p, err := a.ResolvePersona(ctx, query)
	if err != nil {
		return types.Utterance{}, err
	}
	a.arena.Stop()
	return a.chats.Send(ctx, p, text)
}

// ApplyConfig applies the hot-reloadable parts of a config change. Language
// and streaming are read per call through the settings and need no action.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.PacingChanged {
		a.arena.SetPacing(diff.NewTurnPause, diff.NewSeedPause)
		slog.Info("arena pacing updated", "turn_pause", diff.NewTurnPause, "seed_pause", diff.NewSeedPause)
	}
	for _, section := range diff.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New acquired before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
