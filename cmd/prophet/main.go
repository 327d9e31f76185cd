// Command prophet lets historical personas talk: two of them debate a topic
// in the arena, or one answers a human in chat, each line spoken aloud.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/observe"
)

// version is reported in telemetry. Release builds set it with
// -ldflags "-X main.version=..."; otherwise the build info is used.
var version string

// shutdownTimeout bounds the teardown after the command returns.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	reloadEvery := flag.Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes")
	flag.Usage = usage
	flag.Parse()

	name := "serve"
	args := flag.Args()
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "prophet: unknown command %q\n\n", name)
		usage()
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level))

	// ── Load configuration (with hot reload) ──────────────────────────────────
	var live atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if a := live.Load(); a != nil {
			a.ApplyConfig(diff)
		}
	}, config.WithInterval(*reloadEvery))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "prophet: config file %q not found; pass -config or create one next to the binary\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "prophet: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	// Commands may override single values; the watcher keeps its own copy.
	cfg := *watcher.Current()
	level.Set(cfg.Server.LogLevel.SlogLevel())

	if err := cmd.parse(&cfg, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "prophet %s: %v\n", name, err)
		return 2
	}

	slog.Info("prophet starting",
		"command", name,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if version == "" {
		version = observe.BuildVersion()
	}
	telemetry, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Sampler:     sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.SampleRatio())),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, watcher.Current)

	providers, err := buildProviders(&cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if name == "serve" {
		printStartupSummary(&cfg, providers)
	}

	application, err := app.New(ctx, &cfg, providers,
		app.WithSettings(config.NewSettings(watcher.Current)),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	live.Store(application)

	code := 0
	if err := cmd.run(ctx, application, &cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(name+" failed", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Debug("stopping…")
	live.Store(nil)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Debug("goodbye")
	return code
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: prophet [-config file] <command> [flags]

Commands:
  serve      run the HTTP API (default)
  arena      let two personas discuss a topic
  chat       talk to one persona on stdin
  voices     list the voices of the TTS provider
  personas   list the persona registry

Global flags:
`)
	flag.PrintDefaults()
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Prophet · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", ps.LLMName, cfg.Providers.LLM.Model)
	printProvider("TTS", ps.TTSName, cfg.Providers.TTS.Model)
	fmt.Printf("║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d llm / %d tts", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.TTSFallbacks)))
	fmt.Printf("║  Language        : %-19s ║\n", clip(cfg.Playback.LanguageOrDefault()))
	fmt.Printf("║  Personas        : %-19s ║\n", storeKind(cfg.Personas.PostgresDSN))
	fmt.Printf("║  Archive         : %-19s ║\n", storeKind(cfg.Archive.PostgresDSN))
	fmt.Printf("║  Listen addr     : %-19s ║\n", clip(cfg.Server.Addr()))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, clip(value))
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return "postgres"
}

func clip(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level follows level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
