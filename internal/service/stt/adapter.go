// Package stt turns user speech into text. It selects between continuous
// in-process recognition and batch capture (record a clip, upload it for
// server-side transcription) once per voice session.
package stt

import (
	"context"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/models"
)

// Mode is the transcription strategy in use.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeBatch      Mode = "batch"
)

// Result is the outcome of one utterance.
type Result struct {
	Transcript string
	Strategy   Mode
	// Reply is set when the batch upload also returned the backend answer.
	Reply *models.Reply
}

// EngineCallback receives the outcome of one recognition instance. An
// engine reports at most one result or error, and OnEnd when it stops.
type EngineCallback interface {
	OnResult(text string)
	OnError(err error)
	OnEnd()
}

// Engine is a single-utterance continuous recognition instance.
type Engine interface {
	// Start begins recognizing frames. It must not block.
	Start(ctx context.Context, frames <-chan audio.Frame, cb EngineCallback) error

	// Stop ends the audio input; a final result may still be delivered.
	Stop()

	// Abort terminates the instance. No further callbacks are expected.
	Abort()
}

// EngineFactory is the capability probe and constructor for an engine.
type EngineFactory interface {
	Name() string
	Supported() bool
	New(ctx context.Context) (Engine, error)
}

// Uploader transcribes a captured clip on the backend.
type Uploader interface {
	Upload(ctx context.Context, clip models.AudioClip, state *models.ScheduleState) (Result, error)
}

// Events receives the adapter's results. Calls arrive on adapter-owned
// goroutines and only for the live instance.
type Events interface {
	OnTranscript(res Result)
	OnError(err error)
	// OnEnd reports that a continuous instance ended without a result or
	// error.
	OnEnd()
}

// FrameSource provides capture frames.
type FrameSource interface {
	Subscribe(buffer int) *audio.Subscription
}
