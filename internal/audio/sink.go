package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"voice-support-client/internal/observability/logging"
)

// CommandSink plays clips by piping them into an external player such as
// ffplay or mpg123. Each clip runs in its own process, killed on cancel.
type CommandSink struct {
	argv   []string
	logger zerolog.Logger
}

// NewCommandSink creates a sink running argv per clip.
func NewCommandSink(argv []string) *CommandSink {
	return &CommandSink{
		argv:   argv,
		logger: logging.WithComponent("audio-playback"),
	}
}

// Name implements Sink.
func (s *CommandSink) Name() string { return "command" }

// Play implements Sink.
func (s *CommandSink) Play(ctx context.Context, clip []byte) error {
	if len(s.argv) == 0 {
		return errors.New("audio: no playback command configured")
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = bytes.NewReader(clip)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("playback: %w: %s", err, stderr.String())
	}
	s.logger.Debug().Int("bytes", len(clip)).Msg("Clip played")
	return nil
}

// GatedSink rejects playback with ErrAutoplayBlocked until Unlock is
// called in response to a user gesture.
type GatedSink struct {
	inner      Sink
	sampleRate int

	mu       sync.Mutex
	unlocked bool
}

// NewGatedSink wraps inner. When required is false the gate starts open.
func NewGatedSink(inner Sink, required bool, sampleRate int) *GatedSink {
	return &GatedSink{inner: inner, sampleRate: sampleRate, unlocked: !required}
}

// Name implements Sink.
func (g *GatedSink) Name() string { return "gated-" + g.inner.Name() }

// Play implements Sink.
func (g *GatedSink) Play(ctx context.Context, clip []byte) error {
	if !g.Unlocked() {
		return ErrAutoplayBlocked
	}
	return g.inner.Play(ctx, clip)
}

// Unlock opens the gate by playing a short silent clip.
func (g *GatedSink) Unlock(ctx context.Context) error {
	if err := g.inner.Play(ctx, SilentWAV(g.sampleRate, 0)); err != nil {
		return fmt.Errorf("prime output: %w", err)
	}
	g.mu.Lock()
	g.unlocked = true
	g.mu.Unlock()
	return nil
}

// Unlocked reports whether playback is allowed.
func (g *GatedSink) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}
