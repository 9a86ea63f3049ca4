// Package mock provides a scripted continuous recognition engine for
// development and tests without cloud credentials.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/service/stt"
)

// SimulatedUtterance is what the engine reports for one utterance.
type SimulatedUtterance struct {
	Final string
	// Err, when set, is reported instead of a result.
	Err error
}

// DefaultUtterances walks through a question and a call booking.
var DefaultUtterances = []SimulatedUtterance{
	{Final: "What is the credit limit on the Aven card"},
	{Final: "Can I talk to someone from support"},
	{Final: "Yes please"},
	{Final: "The first available time works"},
	{Final: "My name is Ada Lovelace and my email is ada@example.com"},
	{Final: "Yes that's correct"},
	{Final: "Thank you very much"},
}

// Factory creates mock engines that cycle through Utterances.
type Factory struct {
	Utterances []SimulatedUtterance
	// Unsupported makes the capability probe fail.
	Unsupported bool
	// NewErr is returned by New; StartErr by Engine.Start.
	NewErr   error
	StartErr error
	// ResultDelay simulates recognition latency after Stop.
	ResultDelay time.Duration

	mu      sync.Mutex
	next    int
	created int
	engines []*Engine
}

// NewFactory creates a factory. With no utterances the defaults are used.
func NewFactory(utterances ...SimulatedUtterance) *Factory {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Factory{Utterances: utterances, ResultDelay: 50 * time.Millisecond}
}

// Name implements stt.EngineFactory.
func (f *Factory) Name() string { return "mock" }

// Supported implements stt.EngineFactory.
func (f *Factory) Supported() bool { return !f.Unsupported }

// New implements stt.EngineFactory.
func (f *Factory) New(ctx context.Context) (stt.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created++
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	utt := f.Utterances[f.next%len(f.Utterances)]
	f.next++
	e := &Engine{utterance: utt, startErr: f.StartErr, delay: f.ResultDelay}
	f.engines = append(f.engines, e)
	return e, nil
}

// Created returns how many engines New was asked for.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Last returns the most recently created engine.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// Engine implements stt.Engine. It reports its utterance when stopped and
// OnEnd when its input closes before that.
type Engine struct {
	utterance SimulatedUtterance
	startErr  error
	delay     time.Duration

	mu      sync.Mutex
	cb      stt.EngineCallback
	frames  int
	stopped bool
	aborted bool
}

// Start implements stt.Engine.
func (e *Engine) Start(ctx context.Context, frames <-chan audio.Frame, cb stt.EngineCallback) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.cb = cb
	e.mu.Unlock()

	go func() {
		for range frames {
			e.mu.Lock()
			e.frames++
			e.mu.Unlock()
		}
		e.mu.Lock()
		ended := !e.stopped && !e.aborted
		e.mu.Unlock()
		if ended {
			cb.OnEnd()
		}
	}()
	return nil
}

// Stop implements stt.Engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped || e.aborted || e.cb == nil {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cb := e.cb
	e.mu.Unlock()

	go func() {
		time.Sleep(e.delay)
		e.mu.Lock()
		aborted := e.aborted
		e.mu.Unlock()
		if aborted {
			return
		}
		if e.utterance.Err != nil {
			cb.OnError(e.utterance.Err)
		} else {
			cb.OnResult(e.utterance.Final)
		}
		cb.OnEnd()
	}()
}

// Abort implements stt.Engine.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

// Aborted reports whether Abort was called.
func (e *Engine) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Frames returns how many frames the engine consumed.
func (e *Engine) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}
