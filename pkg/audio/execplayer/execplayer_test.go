package execplayer

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/prophet/pkg/audio"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_SubstitutesSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		speed float64
		want  string
	}{
		{1, "atempo=1.00"},
		{0, "atempo=1.00"},
		{1.25, "atempo=1.25"},
		{0.1, "atempo=0.50"},
		{3, "atempo=2.00"},
	}
	p := New()
	for _, tt := range tests {
		name, args := p.Command(tt.speed)
		if name != DefaultCommand {
			t.Fatalf("command = %q, want %q", name, DefaultCommand)
		}
		if args[5] != tt.want {
			t.Errorf("Command(%v) filter = %q, want %q", tt.speed, args[5], tt.want)
		}
	}
	if !reflect.DeepEqual(p.args, DefaultArgs) {
		t.Fatal("Command must not mutate the configured arguments")
	}
}

func TestPlay_PipesClipToProcess(t *testing.T) {
	t.Parallel()
	requireShell(t)

	// The script succeeds only if stdin carries the clip and the speed was
	// substituted.
	p := New(WithCommand("sh", "-c", `test "$(cat)" = "mp3-bytes" && test "$0" = "1.50"`, SpeedPlaceholder))
	if err := p.Play(context.Background(), []byte("mp3-bytes"), 1.5); err != nil {
		t.Fatalf("Play: %v", err)
	}
}

func TestPlay_NonZeroExitIsDecodeError(t *testing.T) {
	t.Parallel()
	requireShell(t)

	p := New(WithCommand("sh", "-c", `cat >/dev/null; echo "Invalid data found" >&2; exit 1`))
	err := p.Play(context.Background(), []byte("garbage"), 1)
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("Play() error = %v, want ErrDecode", err)
	}
}

func TestPlay_EmptyClip(t *testing.T) {
	t.Parallel()

	if err := New().Play(context.Background(), nil, 1); !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("Play(nil) error = %v, want ErrDecode", err)
	}
}

func TestPlay_CancelKillsProcess(t *testing.T) {
	t.Parallel()
	requireShell(t)

	p := New(WithCommand("sh", "-c", "sleep 10"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Play(ctx, []byte("x"), 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Play() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Play took %v after cancellation", elapsed)
	}
}

func TestPlay_MissingBinary(t *testing.T) {
	t.Parallel()

	p := New(WithCommand("definitely-not-a-real-player-binary"))
	err := p.Play(context.Background(), []byte("x"), 1)
	if err == nil || errors.Is(err, audio.ErrDecode) {
		t.Fatalf("Play() error = %v, want a non-decode error", err)
	}
}

func TestLimitedBuffer(t *testing.T) {
	t.Parallel()

	b := &limitedBuffer{max: 4}
	n, _ := b.Write([]byte("abcdef"))
	if n != 6 {
		t.Fatalf("Write() = %d, want 6", n)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" {
		t.Fatalf("String() = %q, want abcd", b.String())
	}
}
