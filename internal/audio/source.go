package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be opened
	// because access was refused.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is returned when no capture device is available.
	ErrNoDevice = errors.New("audio: no capture device")

	// ErrAutoplayBlocked is returned by a gated sink until audio has been
	// enabled by a user gesture.
	ErrAutoplayBlocked = errors.New("audio: playback blocked until audio is enabled")

	// ErrCaptureLost is reported when a source stops delivering frames
	// without being stopped, e.g. the recorder process exited.
	ErrCaptureLost = errors.New("audio: capture ended unexpectedly")

	// ErrClosed is returned when using a stopped source.
	ErrClosed = errors.New("audio: source closed")
)

// Source captures microphone audio.
type Source interface {
	// Start opens the device. It fails with ErrPermissionDenied when access
	// is refused.
	Start(ctx context.Context) error

	// Frames returns the capture channel. It is closed when the source stops.
	Frames() <-chan Frame

	// Stop releases the device. It is safe to call Stop multiple times.
	Stop() error

	// Name returns the backend name, e.g. "command" or "mock".
	Name() string
}

// Sink plays encoded audio clips (mp3 or wav).
type Sink interface {
	// Play blocks until the clip finishes, ctx is cancelled, or playback
	// fails. A cancelled playback returns ctx.Err().
	Play(ctx context.Context, clip []byte) error

	// Name returns the backend name.
	Name() string
}
