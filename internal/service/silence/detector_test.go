package silence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type sample struct {
	at   time.Duration
	peak int
}

// feed runs samples through a tracker, returning every non-empty event.
func feed(cfg Config, samples []sample) []Event {
	base := time.Unix(0, 0)
	tr := NewTracker(cfg, base)
	var events []Event
	for _, s := range samples {
		if ev := tr.Observe(s.peak, base.Add(s.at)); ev != EventNone {
			events = append(events, ev)
		}
	}
	return events
}

// series builds samples every 16ms from start to end at a constant peak.
func series(start, end time.Duration, peak int) []sample {
	var out []sample
	for at := start; at < end; at += 16 * time.Millisecond {
		out = append(out, sample{at, peak})
	}
	return out
}

func countComplete(events []Event) int {
	n := 0
	for _, e := range events {
		if e == EventUtteranceComplete {
			n++
		}
	}
	return n
}

func TestTracker_FiresExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name    string
		samples []sample
		want    int
	}{
		{
			name:    "speech then long silence",
			samples: append(series(0, time.Second, 40), series(time.Second, 6*time.Second, 0)...),
			want:    1,
		},
		{
			name:    "pure silence",
			samples: series(0, 30*time.Second, 3),
			want:    0,
		},
		{
			name:    "silence not long enough",
			samples: append(series(0, time.Second, 40), series(time.Second, 2400*time.Millisecond, 0)...),
			want:    0,
		},
		{
			name: "silence interrupted by speech restarts the delay",
			samples: concat(
				series(0, 500*time.Millisecond, 40),
				series(500*time.Millisecond, 1700*time.Millisecond, 0),
				series(1700*time.Millisecond, 1800*time.Millisecond, 40),
				series(1800*time.Millisecond, 3000*time.Millisecond, 0),
			),
			want: 0,
		},
		{
			name:    "single sample at threshold counts as speech",
			samples: append([]sample{{0, 10}}, series(16*time.Millisecond, 5*time.Second, 9)...),
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countComplete(feed(cfg, tt.samples)); got != tt.want {
				t.Errorf("completions = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTracker_MinSpeakingTime(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Unix(0, 0)
	tr := NewTracker(cfg, base)

	// A noise burst right after start followed by silence: the silence delay
	// elapses at 1.55s but the window is not yet 2s old.
	tr.Observe(50, base.Add(10*time.Millisecond))
	tr.Observe(0, base.Add(50*time.Millisecond))
	if ev := tr.Observe(0, base.Add(1600*time.Millisecond)); ev != EventNone {
		t.Fatalf("expected no completion before min speaking time, got %v", ev)
	}
	if ev := tr.Observe(0, base.Add(2000*time.Millisecond)); ev != EventNone {
		t.Fatalf("expected no completion at exactly 2s, got %v", ev)
	}
	if ev := tr.Observe(0, base.Add(2016*time.Millisecond)); ev != EventUtteranceComplete {
		t.Fatalf("expected completion after 2s, got %v", ev)
	}
}

func TestTracker_ThresholdsMustBeExceeded(t *testing.T) {
	cfg := Config{VoiceThreshold: 10, SilenceDelay: 100 * time.Millisecond, MinSpeakingTime: 0}
	base := time.Unix(0, 0)

	tests := []struct {
		name    string
		silence time.Duration
		want    Event
	}{
		{"below delay", 99 * time.Millisecond, EventNone},
		{"equal to delay", 100 * time.Millisecond, EventNone},
		{"past delay", 101 * time.Millisecond, EventUtteranceComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(cfg, base)
			tr.Observe(40, base)
			tr.Observe(0, base.Add(10*time.Millisecond))
			if got := tr.Observe(0, base.Add(10*time.Millisecond+tt.silence)); got != tt.want {
				t.Errorf("Observe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTracker_SpeechStartOnce(t *testing.T) {
	events := feed(DefaultConfig(), concat(
		series(0, 200*time.Millisecond, 40),
		series(200*time.Millisecond, 400*time.Millisecond, 0),
		series(400*time.Millisecond, 600*time.Millisecond, 40),
	))
	if len(events) != 1 || events[0] != EventSpeechStart {
		t.Errorf("expected a single speech start, got %v", events)
	}
}

func TestTracker_ResetOpensFreshWindow(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Unix(0, 0)
	tr := NewTracker(cfg, base)
	tr.Observe(40, base)
	tr.Observe(0, base.Add(100*time.Millisecond))
	if tr.Observe(0, base.Add(2500*time.Millisecond)) != EventUtteranceComplete {
		t.Fatal("expected completion")
	}

	tr.Reset(base.Add(3 * time.Second))
	if tr.HasSpoken() {
		t.Error("expected hasSpoken cleared by reset")
	}
	tr.Observe(40, base.Add(3*time.Second))
	tr.Observe(0, base.Add(3100*time.Millisecond))
	if ev := tr.Observe(0, base.Add(4700*time.Millisecond)); ev != EventNone {
		t.Errorf("expected new window to enforce min speaking time, got %v", ev)
	}
}

func TestTracker_MarkSpoken(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Unix(0, 0)
	tr := NewTracker(cfg, base)

	// Playback has been running for 5s when the user interrupts.
	onset := base.Add(5 * time.Second)
	tr.MarkSpoken(onset)
	if !tr.HasSpoken() {
		t.Fatal("expected speech already started")
	}
	if ev := tr.Observe(40, onset.Add(16*time.Millisecond)); ev != EventNone {
		t.Errorf("expected no second speech start, got %v", ev)
	}
	tr.Observe(0, onset.Add(100*time.Millisecond))
	if ev := tr.Observe(0, onset.Add(1700*time.Millisecond)); ev != EventNone {
		t.Errorf("expected min speaking time counted from onset, got %v", ev)
	}
	if ev := tr.Observe(0, onset.Add(2100*time.Millisecond)); ev != EventUtteranceComplete {
		t.Errorf("expected completion, got %v", ev)
	}
}

func TestDetector_RunSpeaking(t *testing.T) {
	d, clk := newManualDetector(DefaultConfig())
	an := &fakeAnalyser{}

	var mu sync.Mutex
	var events []Event
	done := make(chan bool, 1)
	go func() {
		done <- d.RunSpeaking(context.Background(), an, func() bool { return true }, func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})
	}()

	if !clk.tickUntil(done, 50*time.Millisecond) {
		t.Fatal("expected completion")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != EventUtteranceComplete {
		t.Errorf("unexpected events %v", events)
	}
}

type fakeAnalyser struct{ level atomic.Int32 }

func (f *fakeAnalyser) Level() int { return int(f.level.Load()) }

// manualClock drives Detector.Run deterministically.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func newManualDetector(cfg Config) (*Detector, *manualClock) {
	clk := &manualClock{now: time.Unix(0, 0), ch: make(chan time.Time)}
	d := NewDetector(cfg)
	d.now = func() time.Time {
		clk.mu.Lock()
		defer clk.mu.Unlock()
		return clk.now
	}
	d.newTicker = func(time.Duration) (<-chan time.Time, func()) { return clk.ch, func() {} }
	return d, clk
}

func (c *manualClock) tick(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ch <- now
}

// tickUntil advances the clock until Run reports on done.
func (c *manualClock) tickUntil(done <-chan bool, d time.Duration) bool {
	for {
		c.mu.Lock()
		c.now = c.now.Add(d)
		now := c.now
		c.mu.Unlock()
		select {
		case c.ch <- now:
		case completed := <-done:
			return completed
		}
	}
}

func TestDetector_Run(t *testing.T) {
	d, clk := newManualDetector(DefaultConfig())
	an := &fakeAnalyser{}

	var mu sync.Mutex
	var events []Event
	done := make(chan bool, 1)
	go func() {
		done <- d.Run(context.Background(), an, func() bool { return true }, func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})
	}()

	an.level.Store(30)
	for i := 0; i < 20; i++ {
		clk.tick(50 * time.Millisecond)
	}
	an.level.Store(0)
	if !clk.tickUntil(done, 50*time.Millisecond) {
		t.Fatal("expected completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != EventSpeechStart || events[1] != EventUtteranceComplete {
		t.Errorf("unexpected events %v", events)
	}
}

func TestDetector_StopsWhenInactive(t *testing.T) {
	d := NewDetector(Config{VoiceThreshold: 10, SilenceDelay: time.Second, MinSpeakingTime: time.Second, SampleInterval: time.Millisecond})
	var active atomic.Bool
	active.Store(true)

	done := make(chan bool, 1)
	go func() {
		done <- d.Run(context.Background(), &fakeAnalyser{}, active.Load, func(Event) {
			t.Error("no event expected")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	active.Store(false)
	select {
	case fired := <-done:
		if fired {
			t.Error("expected no completion")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop when inactive")
	}
}

func TestDetector_ContextCancel(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- d.Run(ctx, &fakeAnalyser{}, func() bool { return true }, func(Event) {})
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
}

func concat(parts ...[]sample) []sample {
	var out []sample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
