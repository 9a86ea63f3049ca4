package stt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
)

// DefaultMaxRecording caps a batch clip. Audio past the cap is dropped.
const DefaultMaxRecording = 60 * time.Second

// Adapter runs one transcription instance at a time over the session's
// capture bus. The strategy is probed once per session by Reset; a
// continuous engine that cannot be created or started switches the
// adapter to batch capture until the next Reset.
type Adapter struct {
	factory    EngineFactory
	uploader   Uploader
	source     FrameSource
	sampleRate int
	maxRecord  time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu        sync.Mutex
	mode      Mode
	probed    bool
	gen       uint64
	events    Events
	engine    Engine
	sub       *audio.Subscription
	rec       *recording
	uploading bool
}

// NewAdapter creates an adapter. factory may be nil when no continuous
// engine is available.
func NewAdapter(factory EngineFactory, uploader Uploader, source FrameSource, sampleRate int) *Adapter {
	return &Adapter{
		factory:    factory,
		uploader:   uploader,
		source:     source,
		sampleRate: sampleRate,
		maxRecord:  DefaultMaxRecording,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("stt"),
	}
}

// SetMaxRecording changes the batch clip cap. Zero disables it.
func (a *Adapter) SetMaxRecording(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxRecord = d
}

// Reset aborts any live instance and probes for continuous recognition.
func (a *Adapter) Reset(sessionID string) Mode {
	a.Abort()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.mode = ModeBatch
	if a.factory != nil && a.factory.Supported() {
		a.mode = ModeContinuous
	}
	a.probed = true
	a.logger = logging.WithStrategy(sessionID, string(a.mode))

	engine := "none"
	if a.factory != nil {
		engine = a.factory.Name()
	}
	a.logger.Info().Str("engine", engine).Msg("Transcription strategy selected")
	return a.mode
}

// Mode returns the strategy in use.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Active reports whether an instance is live, including a batch upload in
// flight.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveLocked()
}

func (a *Adapter) liveLocked() bool {
	return a.engine != nil || a.rec != nil || a.uploading
}

// Listen opens a transcription instance for the next utterance. It is a
// no-op while an instance is live.
func (a *Adapter) Listen(ctx context.Context, ev Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return errors.New("stt: no frame source")
	}
	if !a.probed {
		a.mode = ModeBatch
		if a.factory != nil && a.factory.Supported() {
			a.mode = ModeContinuous
		}
		a.probed = true
	}
	if a.liveLocked() {
		a.logger.Debug().Msg("Listen ignored, instance already live")
		return nil
	}

	a.gen++
	a.events = ev

	if a.mode == ModeContinuous {
		err := a.startEngineLocked(ctx, a.gen)
		if err == nil {
			return nil
		}
		a.logger.Warn().Err(err).Msg("Continuous recognition unavailable, falling back to batch capture")
		a.mode = ModeBatch
		a.metrics.RecordFallback()
	}

	a.rec = startRecording(a.source.Subscribe(1024), a.maxRecord, a.logger)
	a.logger.Debug().Msg("Batch capture started")
	return nil
}

func (a *Adapter) startEngineLocked(ctx context.Context, gen uint64) error {
	engine, err := a.factory.New(ctx)
	if err != nil {
		return err
	}
	sub := a.source.Subscribe(256)
	if err := engine.Start(ctx, sub.C, &engineCallback{a: a, gen: gen}); err != nil {
		sub.Close()
		engine.Abort()
		return err
	}
	a.engine = engine
	a.sub = sub
	a.logger.Debug().Msg("Continuous recognition started")
	return nil
}

// Finish ends the current utterance. A continuous engine is asked to
// finalize; a batch recording is stopped and uploaded with state, the
// scheduling snapshot taken by the caller at issue time. The outcome is
// delivered through Events.
func (a *Adapter) Finish(ctx context.Context, state *models.ScheduleState) error {
	a.mu.Lock()
	switch {
	case a.engine != nil:
		engine := a.engine
		a.mu.Unlock()
		engine.Stop()
		return nil
	case a.rec != nil:
		rec := a.rec
		a.rec = nil
		a.uploading = true
		gen := a.gen
		a.mu.Unlock()
		go a.upload(ctx, gen, rec, state)
		return nil
	default:
		a.mu.Unlock()
		return ErrNotListening
	}
}

func (a *Adapter) upload(ctx context.Context, gen uint64, rec *recording, state *models.ScheduleState) {
	samples := rec.stop()
	if len(samples) == 0 {
		a.deliverUpload(gen, Result{Strategy: ModeBatch}, nil)
		return
	}

	clip := models.AudioClip{
		Data:       audio.EncodeWAV(samples, rec.rate(a.sampleRate)),
		Encoding:   "audio/wav",
		SampleRate: rec.rate(a.sampleRate),
	}
	res, err := a.uploader.Upload(ctx, clip, state)
	res.Strategy = ModeBatch
	a.deliverUpload(gen, res, err)
}

func (a *Adapter) deliverUpload(gen uint64, res Result, err error) {
	a.mu.Lock()
	if gen != a.gen || !a.uploading {
		logger := a.logger
		a.mu.Unlock()
		logger.Debug().Msg("Dropping upload result of a cancelled utterance")
		return
	}
	a.uploading = false
	ev := a.events
	a.mu.Unlock()

	if err != nil {
		if CodeOf(err) != CodeAborted {
			err = NewError(CodeNetwork, err)
		}
		a.metrics.RecordSTTError(string(ModeBatch), string(CodeOf(err)))
		ev.OnError(err)
		return
	}
	res.Transcript = strings.TrimSpace(res.Transcript)
	if res.Transcript != "" {
		a.metrics.RecordTranscription(string(ModeBatch))
	}
	ev.OnTranscript(res)
}

// Abort terminates the live instance. Late results of the aborted
// instance are dropped.
func (a *Adapter) Abort() {
	a.mu.Lock()
	a.gen++
	engine, sub, rec := a.engine, a.sub, a.rec
	a.engine, a.sub, a.rec = nil, nil, nil
	a.uploading = false
	a.mu.Unlock()

	if engine != nil {
		engine.Abort()
	}
	if sub != nil {
		sub.Close()
	}
	if rec != nil {
		rec.stop()
	}
}

// settle retires the engine instance identified by gen. It returns the
// events sink if the instance was still live.
func (a *Adapter) settle(gen uint64) (Events, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen || a.engine == nil {
		return nil, false
	}
	a.engine = nil
	if a.sub != nil {
		a.sub.Close()
		a.sub = nil
	}
	return a.events, true
}

type engineCallback struct {
	a   *Adapter
	gen uint64
}

func (c *engineCallback) OnResult(text string) {
	ev, ok := c.a.settle(c.gen)
	if !ok {
		return
	}
	text = strings.TrimSpace(text)
	if text != "" {
		c.a.metrics.RecordTranscription(string(ModeContinuous))
	}
	ev.OnTranscript(Result{Transcript: text, Strategy: ModeContinuous})
}

func (c *engineCallback) OnError(err error) {
	ev, ok := c.a.settle(c.gen)
	if !ok {
		return
	}
	c.a.metrics.RecordSTTError(string(ModeContinuous), string(CodeOf(err)))
	ev.OnError(err)
}

func (c *engineCallback) OnEnd() {
	ev, ok := c.a.settle(c.gen)
	if !ok {
		return
	}
	ev.OnEnd()
}

// recording accumulates frames from a subscription until stopped.
type recording struct {
	sub  *audio.Subscription
	done chan struct{}

	mu         sync.Mutex
	samples    []int16
	sampleRate int
	truncated  bool
}

func startRecording(sub *audio.Subscription, maxDur time.Duration, logger zerolog.Logger) *recording {
	r := &recording{sub: sub, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for f := range sub.C {
			r.mu.Lock()
			r.sampleRate = f.SampleRate
			limit := -1
			if maxDur > 0 && f.SampleRate > 0 {
				limit = int(int64(f.SampleRate) * int64(maxDur) / int64(time.Second))
			}
			samples := f.Samples
			if limit >= 0 && len(r.samples)+len(samples) > limit {
				samples = samples[:max0(limit-len(r.samples))]
				if !r.truncated {
					r.truncated = true
					logger.Warn().Dur("max", maxDur).Msg("Recording reached its cap, dropping further audio")
				}
			}
			r.samples = append(r.samples, samples...)
			r.mu.Unlock()
		}
	}()
	return r
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (r *recording) stop() []int16 {
	r.sub.Close()
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *recording) rate(def int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sampleRate > 0 {
		return r.sampleRate
	}
	return def
}
