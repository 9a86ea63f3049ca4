// Package playback sequences assistant speech: one clip at a time, with
// interruption and autoplay-policy handling.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
)

// State is the controller state.
type State int

const (
	StateStopped State = iota
	StatePlaying
)

// String returns a human-readable state name.
func (s State) String() string {
	if s == StatePlaying {
		return "PLAYING"
	}
	return "STOPPED"
}

// ErrSynthesis wraps a failed text-to-speech request. The reply text is
// already in the conversation; only its audio is missing.
var ErrSynthesis = errors.New("playback: synthesis failed")

// Synthesizer turns text into mpeg audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Unlocker is a sink that needs a user gesture before it may play.
type Unlocker interface {
	Unlock(ctx context.Context) error
	Unlocked() bool
}

// Controller owns the output device. Starting a clip stops the previous
// one; a stopped or superseded clip never reports completion.
type Controller struct {
	sink    audio.Sink
	synth   Synthesizer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu              sync.Mutex
	state           State
	gen             uint64
	cancel          context.CancelFunc
	blockedNotified bool
	onBlocked       func()
}

// New creates a controller over sink. synth is used when a reply carries
// no audio.
func New(sink audio.Sink, synth Synthesizer) *Controller {
	return &Controller{
		sink:    sink,
		synth:   synth,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("playback"),
	}
}

// OnAutoplayBlocked registers the one-shot "enable audio" notification.
func (c *Controller) OnAutoplayBlocked(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBlocked = fn
}

// Speak plays clip, or synthesizes text when clip is empty. onEnded is
// called exactly once when the clip finishes or fails, unless the clip is
// stopped or superseded first. A clip rejected by the autoplay policy ends
// with audio.ErrAutoplayBlocked.
func (c *Controller) Speak(ctx context.Context, text string, clip []byte, onEnded func(error)) {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	gen := c.gen
	playCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StatePlaying
	c.mu.Unlock()

	go func() {
		var err error
		if len(clip) == 0 {
			clip, err = c.synthesize(playCtx, text)
		}
		if err == nil {
			err = c.sink.Play(playCtx, clip)
		}
		c.finish(gen, err, onEnded)
	}()
}

func (c *Controller) synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.synth == nil {
		return nil, errors.New("playback: no synthesizer configured")
	}
	clean := StripMarkdown(text)
	if strings.TrimSpace(clean) == "" {
		return nil, errors.New("playback: nothing to say")
	}
	data, err := c.synth.Synthesize(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return data, nil
}

func (c *Controller) finish(gen uint64, err error, onEnded func(error)) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	var notify func()
	blocked := errors.Is(err, audio.ErrAutoplayBlocked)
	if blocked && !c.blockedNotified {
		c.blockedNotified = true
		notify = c.onBlocked
	}
	c.mu.Unlock()

	switch {
	case blocked:
		c.metrics.RecordAutoplayBlocked()
		c.metrics.RecordPlayback("blocked")
		c.logger.Warn().Msg("Playback blocked until audio is enabled")
		if notify != nil {
			notify()
		}
	case err != nil:
		c.metrics.RecordPlayback("failed")
		c.logger.Warn().Err(err).Msg("Playback failed")
	default:
		c.metrics.RecordPlayback("finished")
	}

	if onEnded != nil {
		onEnded(err)
	}
}

// Stop interrupts the current clip. The clip is discarded and its
// completion is never reported. It returns whether a clip was playing.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	playing := c.state == StatePlaying
	c.stopLocked()
	if playing {
		c.metrics.RecordPlayback("interrupted")
	}
	return playing
}

func (c *Controller) stopLocked() {
	if c.state != StatePlaying {
		return
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateStopped
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsPlaying reports whether a clip is playing.
func (c *Controller) IsPlaying() bool {
	return c.State() == StatePlaying
}

// EnableAudio handles the user gesture that unlocks playback. The
// blocked notification may fire again afterwards.
func (c *Controller) EnableAudio(ctx context.Context) error {
	if u, ok := c.sink.(Unlocker); ok {
		if err := u.Unlock(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.blockedNotified = false
	c.mu.Unlock()
	c.logger.Info().Msg("Audio enabled")
	return nil
}

// AudioEnabled reports whether playback is currently allowed.
func (c *Controller) AudioEnabled() bool {
	if u, ok := c.sink.(Unlocker); ok {
		return u.Unlocked()
	}
	return true
}

var markdownReplacer = strings.NewReplacer("**", "", "*", "", "- ", "", "#", "")

// StripMarkdown removes the markdown marks that would otherwise be read
// aloud.
func StripMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}
