package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/config"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/internal/server"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/types"
)

// command is one CLI subcommand. parse may adjust cfg before the application
// is built from it.
type command struct {
	parse func(cfg *config.Config, args []string) error
	run   func(ctx context.Context, a *app.App, cfg *config.Config) error
}

var commands = map[string]*command{
	"serve":    serveCommand(),
	"arena":    arenaCommand(os.Stdout),
	"chat":     chatCommand(os.Stdin, os.Stdout),
	"voices":   voicesCommand(os.Stdout),
	"personas": personasCommand(os.Stdout),
}

func noArgs(name string) func(*config.Config, []string) error {
	return func(_ *config.Config, args []string) error {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		return fs.Parse(args)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCommand() *command {
	return &command{
		parse: func(cfg *config.Config, args []string) error {
			fs := flag.NewFlagSet("serve", flag.ContinueOnError)
			addr := fs.String("listen", "", "override server.listen_addr")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *addr != "" {
				cfg.Server.ListenAddr = *addr
			}
			return nil
		},
		run: func(ctx context.Context, a *app.App, cfg *config.Config) error {
			srv := server.New(a, server.WithMetrics(a.Metrics()))
			return srv.Run(ctx, cfg.Server)
		},
	}
}

// ── arena ─────────────────────────────────────────────────────────────────────

type arenaFlags struct {
	first, second, topic string
}

func arenaCommand(out io.Writer) *command {
	var f arenaFlags
	return &command{
		parse: func(cfg *config.Config, args []string) error {
			fs := flag.NewFlagSet("arena", flag.ContinueOnError)
			fs.StringVar(&f.first, "a", "", "first persona (ID or name); default from config")
			fs.StringVar(&f.second, "b", "", "second persona (ID or name); default from config")
			fs.StringVar(&f.topic, "topic", "", "topic of the discussion (or pass it as arguments)")
			turns := fs.Int("turns", -1, "end after this many turns; 0 runs until interrupted")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if f.topic == "" {
				f.topic = strings.Join(fs.Args(), " ")
			}
			if strings.TrimSpace(f.topic) == "" {
				return errors.New("a topic is required")
			}
			if *turns >= 0 {
				cfg.Arena.MaxTurns = *turns
			}
			return nil
		},
		run: func(ctx context.Context, a *app.App, _ *config.Config) error {
			events, unsubscribe := a.Arena().Subscribe()
			defer unsubscribe()

			if err := a.StartArena(ctx, f.first, f.second, f.topic); err != nil {
				return err
			}
			pair := a.Arena().Snapshot().Personas
			fmt.Fprintf(out, "%s and %s on %q\n\n", pair[0].Name, pair[1].Name, f.topic)
			return followArena(ctx, out, events, pair)
		},
	}
}

// followArena prints utterances until the conversation stops or fails.
func followArena(ctx context.Context, out io.Writer, events <-chan arena.Event, pair [2]persona.Persona) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case arena.EventUtterance:
				if ev.Utterance != nil {
					printLine(out, *ev.Utterance, pair[:]...)
				}
			case arena.EventError:
				return errors.New(ev.Error)
			case arena.EventState:
				if ev.State == arena.StateStopped {
					return nil
				}
			}
		}
	}
}

func printLine(out io.Writer, u types.Utterance, personas ...persona.Persona) {
	speaker := "»"
	if !u.Human {
		speaker = u.PersonaID
		for _, p := range personas {
			if p.ID == u.PersonaID {
				speaker = p.Name
				break
			}
		}
		speaker += ":"
	}
	fmt.Fprintf(out, "%s %s\n", speaker, u.Content)
}

// ── chat ──────────────────────────────────────────────────────────────────────

func chatCommand(in io.Reader, out io.Writer) *command {
	var query string
	return &command{
		parse: func(_ *config.Config, args []string) error {
			fs := flag.NewFlagSet("chat", flag.ContinueOnError)
			fs.StringVar(&query, "persona", "", "persona to talk to (ID or name)")
			if err := fs.Parse(args); err != nil {
				return err
			}
			if query == "" {
				query = strings.Join(fs.Args(), " ")
			}
			if strings.TrimSpace(query) == "" {
				return errors.New("a persona is required")
			}
			return nil
		},
		run: func(ctx context.Context, a *app.App, _ *config.Config) error {
			p, err := a.ResolvePersona(ctx, query)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Talking to %s. An empty line or Ctrl+D ends the chat.\n", p.Name)
			return chatLoop(ctx, in, out, a, p)
		},
	}
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, a *app.App, p persona.Persona) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			return nil
		}

		reply, err := a.Chat(ctx, p.ID, line)
		if err != nil {
			if apierr.IsCancellation(err) {
				return ctx.Err()
			}
			fmt.Fprintf(out, "! %s\n", apierr.UserMessage(err))
			continue
		}
		printLine(out, reply, p)
		if err := a.Chats().Wait(ctx); err != nil {
			return err
		}
	}
}

// ── voices / personas ─────────────────────────────────────────────────────────

func voicesCommand(out io.Writer) *command {
	return &command{
		parse: noArgs("voices"),
		run: func(ctx context.Context, a *app.App, _ *config.Config) error {
			voices, err := a.Voices(ctx)
			if err != nil {
				return fmt.Errorf("list voices: %s", apierr.UserMessage(err))
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROVIDER")
			for _, v := range voices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Name, v.Provider)
			}
			return tw.Flush()
		},
	}
}

func personasCommand(out io.Writer) *command {
	return &command{
		parse: noArgs("personas"),
		run: func(ctx context.Context, a *app.App, _ *config.Config) error {
			list, err := a.Personas().List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVOICE\tICON")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.VoiceID, p.Icon)
			}
			return tw.Flush()
		},
	}
}
