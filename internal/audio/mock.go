package audio

import (
	"context"
	"sync"
	"time"
)

// Segment is a stretch of synthetic audio at a constant level.
type Segment struct {
	Peak     int
	Duration time.Duration
}

// DefaultScript alternates a spoken phrase with a pause long enough for the
// silence detector to close the utterance.
var DefaultScript = []Segment{
	{Peak: 0, Duration: 500 * time.Millisecond},
	{Peak: 40, Duration: 2500 * time.Millisecond},
	{Peak: 0, Duration: 4 * time.Second},
}

// MockSource generates frames from a script in real time. It never touches
// a device, so it also stands in for the microphone in development.
type MockSource struct {
	script     []Segment
	loop       bool
	sampleRate int
	frameSize  time.Duration

	// StartErr is returned by Start when set.
	StartErr error

	mu      sync.Mutex
	frames  chan Frame
	cancel  context.CancelFunc
	running bool
	starts  int
}

// NewMockSource creates a scripted source. With loop set the script repeats
// until Stop.
func NewMockSource(script []Segment, loop bool, sampleRate int, frameSize time.Duration) *MockSource {
	if frameSize <= 0 {
		frameSize = 20 * time.Millisecond
	}
	return &MockSource{
		script:     script,
		loop:       loop,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
}

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// Frames implements Source.
func (m *MockSource) Frames() <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.starts++
	if m.StartErr != nil {
		return m.StartErr
	}
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.frames = make(chan Frame, 32)
	m.running = true
	go m.generate(runCtx, m.frames)
	return nil
}

// Starts returns how many times Start was called.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockSource) generate(ctx context.Context, frames chan<- Frame) {
	defer close(frames)
	ticker := time.NewTicker(m.frameSize)
	defer ticker.Stop()

	n := SamplesPerFrame(m.sampleRate, m.frameSize)
	for {
		for _, seg := range m.script {
			sample := int16(seg.Peak << 8)
			if seg.Peak >= MaxPeak {
				sample = 32767
			}
			for elapsed := time.Duration(0); elapsed < seg.Duration; elapsed += m.frameSize {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				samples := make([]int16, n)
				for i := range samples {
					if i%2 == 0 {
						samples[i] = sample
					} else {
						samples[i] = -sample
					}
				}
				select {
				case frames <- Frame{Samples: samples, SampleRate: m.sampleRate}:
				case <-ctx.Done():
					return
				}
			}
		}
		if !m.loop {
			<-ctx.Done()
			return
		}
	}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()
	return nil
}

// Disconnect ends the frame stream as if the device went away. The source
// still counts as running until Stop.
func (m *MockSource) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.cancel()
	}
}

// MockSink records clips and simulates playback time.
type MockSink struct {
	// PlayDuration is how long each clip takes to play.
	PlayDuration time.Duration
	// Err is returned by Play when set.
	Err error

	mu     sync.Mutex
	clips  [][]byte
	active int
}

// NewMockSink creates a sink whose clips take d to play.
func NewMockSink(d time.Duration) *MockSink {
	return &MockSink{PlayDuration: d}
}

// Name implements Sink.
func (s *MockSink) Name() string { return "mock" }

// Play implements Sink.
func (s *MockSink) Play(ctx context.Context, clip []byte) error {
	s.mu.Lock()
	s.clips = append(s.clips, append([]byte(nil), clip...))
	err := s.Err
	d := s.PlayDuration
	s.active++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if err != nil {
		return err
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPlayDuration changes how long subsequent clips take.
func (s *MockSink) SetPlayDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayDuration = d
}

// Clips returns a copy of every clip handed to Play.
func (s *MockSink) Clips() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.clips...)
}

// Active returns how many clips are playing right now.
func (s *MockSink) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
