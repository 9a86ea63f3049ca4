package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-support-client/internal/observability/logging"
)

// startGrace is how long Start waits for the capture process to fail before
// treating it as running.
const startGrace = 500 * time.Millisecond

// CommandSource captures raw PCM16 mono audio from the stdout of an external
// recorder such as arecord or sox.
type CommandSource struct {
	argv       []string
	sampleRate int
	frameSize  time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan Frame
	stderr  *lockedBuffer
	running bool
}

// NewCommandSource creates a capture source running argv.
func NewCommandSource(argv []string, sampleRate int, frameSize time.Duration) *CommandSource {
	return &CommandSource{
		argv:       argv,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		logger:     logging.WithComponent("audio-capture"),
	}
}

// Name implements Source.
func (s *CommandSource) Name() string { return "command" }

// Frames implements Source.
func (s *CommandSource) Frames() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Start launches the recorder and waits briefly for it to fail. A recorder
// that exits during that window is classified from its stderr.
func (s *CommandSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.argv) == 0 {
		return ErrNoDevice
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture stdout: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return fmt.Errorf("start capture: %w", err)
	}

	frames := make(chan Frame, 32)
	exited := make(chan error, 1)
	go s.readLoop(stdout, frames)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		cancel()
		return classifyCaptureExit(err, stderr.String())
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(startGrace):
	}

	s.cmd = cmd
	s.cancel = cancel
	s.frames = frames
	s.stderr = stderr
	s.running = true

	s.logger.Info().
		Str("command", s.argv[0]).
		Int("sampleRate", s.sampleRate).
		Msg("Audio capture started")
	return nil
}

func (s *CommandSource) readLoop(r io.Reader, frames chan<- Frame) {
	defer close(frames)
	br := bufio.NewReader(r)
	buf := make([]byte, SamplesPerFrame(s.sampleRate, s.frameSize)*2)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug().Err(err).Msg("Capture read ended")
			}
			return
		}
		frames <- FrameFromBytes(buf, s.sampleRate)
	}
}

// Stop kills the recorder.
func (s *CommandSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	s.logger.Info().Msg("Audio capture stopped")
	return nil
}

func classifyCaptureExit(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w: %s", ErrNoDevice, strings.TrimSpace(stderr))
	case err == nil:
		return fmt.Errorf("%w: recorder exited immediately", ErrNoDevice)
	default:
		return fmt.Errorf("capture exited: %w: %s", err, strings.TrimSpace(stderr))
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
