// Package execplayer implements audio.Player by piping each clip into an
// external decoder/player process, ffplay by default.
package execplayer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/prophet/pkg/audio"
)

// SpeedPlaceholder is replaced in every argument with the playback speed.
const SpeedPlaceholder = "{speed}"

// DefaultCommand is the player binary used when none is configured.
const DefaultCommand = "ffplay"

// DefaultArgs play an encoded clip from stdin without a window and exit when
// it ends. The speed is applied through an atempo filter.
var DefaultArgs = []string{
	"-nodisp", "-autoexit", "-loglevel", "error",
	"-af", "atempo=" + SpeedPlaceholder,
	"-i", "pipe:0",
}

const (
	minSpeed = 0.5
	maxSpeed = 2.0

	// waitDelay bounds how long Play waits for the process to release its
	// pipes after it was killed.
	waitDelay = 200 * time.Millisecond

	maxStderr = 1024
)

// Option configures a Player.
type Option func(*Player)

// WithCommand replaces the player command and its arguments. Arguments may
// contain [SpeedPlaceholder].
func WithCommand(command string, args ...string) Option {
	return func(p *Player) {
		if command != "" {
			p.command = command
			p.args = args
		}
	}
}

// Player runs one process per clip. It is safe for concurrent use, although
// the queues in package audio never call it concurrently.
type Player struct {
	command string
	args    []string
}

var _ audio.Player = (*Player)(nil)

// New returns a Player using [DefaultCommand] and [DefaultArgs] unless
// overridden.
func New(opts ...Option) *Player {
	p := &Player{
		command: DefaultCommand,
		args:    DefaultArgs,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Command returns the configured binary and its arguments for speed.
func (p *Player) Command(speed float64) (string, []string) {
	s := formatSpeed(speed)
	args := make([]string, len(p.args))
	for i, a := range p.args {
		args[i] = strings.ReplaceAll(a, SpeedPlaceholder, s)
	}
	return p.command, args
}

// Play implements audio.Player. A non-zero exit of the player process is
// reported as audio.ErrDecode; a cancelled ctx kills the process and returns
// ctx.Err().
func (p *Player) Play(ctx context.Context, data []byte, speed float64) error {
	if len(data) == 0 {
		return fmt.Errorf("execplayer: empty clip: %w", audio.ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name, args := p.Command(speed)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(data)
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("execplayer: %s exited with %d: %w", name, exitErr.ExitCode(), audio.ErrDecode)
		}
		return fmt.Errorf("execplayer: %s exited with %d: %s: %w", name, exitErr.ExitCode(), msg, audio.ErrDecode)
	}
	return fmt.Errorf("execplayer: run %s: %w", name, err)
}

// formatSpeed clamps speed to the range atempo accepts and formats it.
func formatSpeed(speed float64) string {
	switch {
	case speed <= 0:
		speed = 1
	case speed < minSpeed:
		speed = minSpeed
	case speed > maxSpeed:
		speed = maxSpeed
	}
	return strconv.FormatFloat(speed, 'f', 2, 64)
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
