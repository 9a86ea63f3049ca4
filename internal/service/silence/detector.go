// Package silence decides when the user has finished an utterance from a
// live level stream.
package silence

import (
	"context"
	"time"
)

// Config holds the detector thresholds.
type Config struct {
	// VoiceThreshold is the peak level, on a 0..128 scale, counted as speech.
	VoiceThreshold int
	// SilenceDelay is how long the level must stay below threshold after
	// speech before the utterance is complete.
	SilenceDelay time.Duration
	// MinSpeakingTime is the minimum length of an utterance window.
	MinSpeakingTime time.Duration
	// SampleInterval is the sampling cadence.
	SampleInterval time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		VoiceThreshold:  10,
		SilenceDelay:    1500 * time.Millisecond,
		MinSpeakingTime: 2000 * time.Millisecond,
		SampleInterval:  16 * time.Millisecond,
	}
}

// Event is an edge reported by the tracker.
type Event int

const (
	EventNone Event = iota
	// EventSpeechStart fires once, on the first sample at or above threshold.
	EventSpeechStart
	// EventUtteranceComplete fires once, when the utterance has ended.
	EventUtteranceComplete
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventSpeechStart:
		return "SPEECH_START"
	case EventUtteranceComplete:
		return "UTTERANCE_COMPLETE"
	default:
		return "NONE"
	}
}

// Tracker is the per-utterance detection state. It is not safe for
// concurrent use.
type Tracker struct {
	cfg          Config
	windowStart  time.Time
	hasSpoken    bool
	silenceStart time.Time
	fired        bool
}

// NewTracker opens an utterance window at now.
func NewTracker(cfg Config, now time.Time) *Tracker {
	t := &Tracker{cfg: cfg}
	t.Reset(now)
	return t
}

// Reset opens a fresh utterance window.
func (t *Tracker) Reset(now time.Time) {
	t.windowStart = now
	t.hasSpoken = false
	t.silenceStart = time.Time{}
	t.fired = false
}

// MarkSpoken opens a fresh window at now whose speech has already started,
// as when the user interrupts playback.
func (t *Tracker) MarkSpoken(now time.Time) {
	t.Reset(now)
	t.hasSpoken = true
}

// HasSpoken reports whether speech was detected in the current window.
func (t *Tracker) HasSpoken() bool { return t.hasSpoken }

// Observe feeds one peak sample taken at now.
func (t *Tracker) Observe(peak int, now time.Time) Event {
	if t.fired {
		return EventNone
	}

	if peak >= t.cfg.VoiceThreshold {
		t.silenceStart = time.Time{}
		if !t.hasSpoken {
			t.hasSpoken = true
			return EventSpeechStart
		}
		return EventNone
	}

	if !t.hasSpoken {
		return EventNone
	}
	if t.silenceStart.IsZero() {
		t.silenceStart = now
	}
	if now.Sub(t.silenceStart) > t.cfg.SilenceDelay && now.Sub(t.windowStart) > t.cfg.MinSpeakingTime {
		t.fired = true
		return EventUtteranceComplete
	}
	return EventNone
}

// Analyser exposes the current input level.
type Analyser interface {
	Level() int
}

// Detector samples an Analyser on a fixed cadence.
type Detector struct {
	cfg       Config
	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewDetector creates a detector using the wall clock.
func NewDetector(cfg Config) *Detector {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultConfig().SampleInterval
	}
	return &Detector{
		cfg: cfg,
		now: time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Config returns the detector thresholds.
func (d *Detector) Config() Config { return d.cfg }

// Run samples a until the utterance completes, ctx is done, or active
// reports false. Every edge is passed to emit. Run reports whether the
// utterance completed.
func (d *Detector) Run(ctx context.Context, a Analyser, active func() bool, emit func(Event)) bool {
	return d.run(ctx, a, active, emit, NewTracker(d.cfg, d.now()))
}

// RunSpeaking is Run for a window that opens mid-speech. No speech start
// is emitted and the minimum speaking time counts from now.
func (d *Detector) RunSpeaking(ctx context.Context, a Analyser, active func() bool, emit func(Event)) bool {
	tracker := NewTracker(d.cfg, d.now())
	tracker.MarkSpoken(d.now())
	return d.run(ctx, a, active, emit, tracker)
}

func (d *Detector) run(ctx context.Context, a Analyser, active func() bool, emit func(Event), tracker *Tracker) bool {
	ticks, stop := d.newTicker(d.cfg.SampleInterval)
	defer stop()

	for {
		if !active() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticks:
		}
		if !active() {
			return false
		}

		ev := tracker.Observe(a.Level(), d.now())
		if ev == EventNone {
			continue
		}
		emit(ev)
		if ev == EventUtteranceComplete {
			return true
		}
	}
}
