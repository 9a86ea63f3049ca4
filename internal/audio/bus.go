package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"voice-support-client/internal/observability/logging"
)

// Bus owns a capture Source for the duration of a voice session. It keeps
// the level of the latest frame for the silence detector and fans frames
// out to subscribers such as a recognition engine or a batch recorder.
type Bus struct {
	src Source

	level atomic.Int32

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	running bool
	done    chan struct{}
	onLost  func(error)
}

// Subscription receives captured frames until closed. Frames are dropped
// when the subscriber falls behind.
type Subscription struct {
	C <-chan Frame

	ch     chan Frame
	bus    *Bus
	closed bool
}

// NewBus creates a bus over src.
func NewBus(src Source) *Bus {
	return &Bus{
		src:  src,
		subs: make(map[*Subscription]struct{}),
	}
}

// OnLost registers fn to be called when the source ends without Stop. By
// then the bus is stopped and every subscription closed; Start reopens it.
func (b *Bus) OnLost(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLost = fn
}

// Start opens the source and begins distributing frames.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	if err := b.src.Start(ctx); err != nil {
		return err
	}
	b.running = true
	b.done = make(chan struct{})
	go b.pump(b.src.Frames(), b.done)
	return nil
}

func (b *Bus) pump(frames <-chan Frame, done chan struct{}) {
	defer close(done)
	for f := range frames {
		b.level.Store(int32(Peak(f.Samples)))

		b.mu.Lock()
		for sub := range b.subs {
			select {
			case sub.ch <- f:
			default:
			}
		}
		b.mu.Unlock()
	}
	b.level.Store(0)

	logger := logging.WithComponent("audio")
	b.mu.Lock()
	if !b.running || b.done != done {
		b.mu.Unlock()
		return
	}
	b.running = false
	for sub := range b.subs {
		sub.closeLocked()
	}
	if err := b.src.Stop(); err != nil {
		logger.Debug().Err(err).Msg("Releasing lost capture source")
	}
	onLost := b.onLost
	b.mu.Unlock()

	logger.Warn().Str("source", b.src.Name()).Msg("Audio capture ended unexpectedly")
	if onLost != nil {
		onLost(ErrCaptureLost)
	}
}

// Stop releases the source and closes every subscription.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	done := b.done
	b.mu.Unlock()

	err := b.src.Stop()
	<-done

	b.mu.Lock()
	for sub := range b.subs {
		sub.closeLocked()
	}
	b.mu.Unlock()
	return err
}

// Running reports whether the source is open.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Level returns the peak of the most recent frame on a 0..128 scale.
func (b *Bus) Level() int {
	return int(b.level.Load())
}

// Subscribe registers a frame subscriber.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Frame, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		sub.closed = true
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s)
	close(s.ch)
}
