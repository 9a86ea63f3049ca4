package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/gateway"
	"voice-support-client/internal/models"
	"voice-support-client/internal/service/chat"
	"voice-support-client/internal/service/conversation"
	"voice-support-client/internal/service/playback"
	"voice-support-client/internal/service/schedule"
	"voice-support-client/internal/service/silence"
	"voice-support-client/internal/service/stt"
)

// fakeCapture is a microphone whose level the test drives.
type fakeCapture struct {
	level    atomic.Int32
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (c *fakeCapture) Start(ctx context.Context) error {
	c.starts.Add(1)
	return c.startErr
}

func (c *fakeCapture) Stop() error {
	c.stops.Add(1)
	return nil
}

func (c *fakeCapture) Level() int        { return int(c.level.Load()) }
func (c *fakeCapture) setLevel(peak int) { c.level.Store(int32(peak)) }

// fakeTranscriber delivers queued results on Finish.
type fakeTranscriber struct {
	mu       sync.Mutex
	mode     stt.Mode
	events   stt.Events
	listens  int
	finishes int
	aborts   int
	results  []stt.Result
	// onListen, when set, runs after each Listen with the call number.
	onListen func(n int, ev stt.Events)
}

func (f *fakeTranscriber) Reset(string) stt.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == "" {
		f.mode = stt.ModeBatch
	}
	return f.mode
}

func (f *fakeTranscriber) Mode() stt.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeTranscriber) Listen(ctx context.Context, ev stt.Events) error {
	f.mu.Lock()
	f.listens++
	f.events = ev
	n, hook := f.listens, f.onListen
	f.mu.Unlock()
	if hook != nil {
		go hook(n, ev)
	}
	return nil
}

func (f *fakeTranscriber) Finish(ctx context.Context, state *models.ScheduleState) error {
	f.mu.Lock()
	f.finishes++
	ev := f.events
	res := stt.Result{Strategy: stt.ModeBatch}
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()
	go ev.OnTranscript(res)
	return nil
}

func (f *fakeTranscriber) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeTranscriber) counts() (listens, finishes, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens, f.finishes, f.aborts
}

// fakeAsker answers after an optional delay.
type fakeAsker struct {
	mu      sync.Mutex
	delay   time.Duration
	err     error
	noAudio bool
	calls   int
}

func (a *fakeAsker) Ask(ctx context.Context, question string, state *models.ScheduleState) (*models.Reply, error) {
	a.mu.Lock()
	a.calls++
	delay, err, noAudio := a.delay, a.err, a.noAudio
	a.mu.Unlock()
	time.Sleep(delay)
	if err != nil {
		return nil, err
	}
	reply := &models.Reply{Answer: "Aven is a fintech company.", Audio: []byte("mp3")}
	if noAudio {
		reply.Audio = nil
	}
	return reply, nil
}

// fakeSynth stands in for the text-to-speech endpoint.
type fakeSynth struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("tts"), nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (a *fakeAsker) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type harness struct {
	s       *Session
	capture *fakeCapture
	stt     *fakeTranscriber
	asker   *fakeAsker
	synth   *fakeSynth
	sink    *audio.MockSink
	log     *conversation.Log
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		capture: &fakeCapture{},
		stt:     &fakeTranscriber{},
		asker:   &fakeAsker{},
		synth:   &fakeSynth{},
		sink:    audio.NewMockSink(20 * time.Millisecond),
		log:     conversation.NewLog(),
	}
	store := schedule.NewStore(nil)
	h.s = New(cfg, Deps{
		Capture:     h.capture,
		Transcriber: h.stt,
		Player:      playback.New(h.sink, h.synth),
		Chat:        chat.New(h.asker, store, h.log),
		Schedule:    store,
		Detector: silence.NewDetector(silence.Config{
			VoiceThreshold:  10,
			SilenceDelay:    40 * time.Millisecond,
			MinSpeakingTime: 60 * time.Millisecond,
			SampleInterval:  2 * time.Millisecond,
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.s.Run(ctx)
	t.Cleanup(cancel)
	waitFor(t, func() bool { return h.s.started.Load() })
	return h
}

func testConfig() Config {
	return Config{
		RestartDelay:        10 * time.Millisecond,
		InactivityTimeout:   time.Minute,
		MaxTransientRetries: 3,
		BargeIn:             true,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// say raises the level long enough to count as speech, then goes silent.
func (h *harness) say() {
	h.capture.setLevel(50)
	time.Sleep(30 * time.Millisecond)
	h.capture.setLevel(0)
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.s.State(); got != StateListening {
		t.Fatalf("state after Start = %s, want LISTENING", got)
	}
}

func TestSilenceSubmitsNothing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)

	time.Sleep(150 * time.Millisecond)

	if _, finishes, _ := h.stt.counts(); finishes != 0 {
		t.Errorf("expected no transcription request, got %d", finishes)
	}
	if h.s.State() != StateListening {
		t.Errorf("expected to stay listening, got %s", h.s.State())
	}
	if h.log.Len() != 0 {
		t.Errorf("expected no messages, got %d", h.log.Len())
	}
}

func TestFullTurn(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stt.results = []stt.Result{{Transcript: " what is aven ", Strategy: stt.ModeBatch}}
	h.start(t)

	h.say()

	waitFor(t, func() bool { return len(h.sink.Clips()) == 1 })
	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return listens == 2 && h.s.State() == StateListening
	})

	msgs := h.log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Text != "what is aven" {
		t.Errorf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant {
		t.Errorf("unexpected assistant message %+v", msgs[1])
	}
	if st := h.s.Status(); st.Flags.RestartInProgress || !st.Flags.RecordingActive {
		t.Errorf("unexpected flags after restart: %+v", st.Flags)
	}
}

func TestEmptyTranscriptSkipsBackend(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stt.results = []stt.Result{{Transcript: "   "}}
	h.start(t)

	h.say()

	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return listens == 2
	})
	if h.asker.callCount() != 0 {
		t.Errorf("expected no backend call, got %d", h.asker.callCount())
	}
	if h.s.State() != StateListening {
		t.Errorf("expected listening, got %s", h.s.State())
	}
}

func TestBatchReplySkipsQuery(t *testing.T) {
	h := newHarness(t, testConfig())
	reply := &models.Reply{Transcript: "book a call", Answer: "Sure, here are some times.", Audio: []byte("mp3")}
	h.stt.results = []stt.Result{{Transcript: "book a call", Strategy: stt.ModeBatch, Reply: reply}}
	h.start(t)

	h.say()

	waitFor(t, func() bool { return len(h.sink.Clips()) == 1 })
	if h.asker.callCount() != 0 {
		t.Errorf("expected the upload reply to be used, got %d ask calls", h.asker.callCount())
	}
	if last, _ := h.log.Last(); last.Text != reply.Answer {
		t.Errorf("unexpected assistant text %q", last.Text)
	}
}

func TestManualStopDuringQueryingSuppressesReply(t *testing.T) {
	h := newHarness(t, testConfig())
	h.asker.delay = 100 * time.Millisecond
	h.stt.results = []stt.Result{{Transcript: "hello"}}
	h.start(t)

	h.say()
	waitFor(t, func() bool { return h.s.State() == StateQuerying })

	if err := h.s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	listensAtStop, _, _ := h.stt.counts()

	time.Sleep(200 * time.Millisecond)

	if h.s.State() != StateIdle {
		t.Errorf("expected idle, got %s", h.s.State())
	}
	if len(h.sink.Clips()) != 0 {
		t.Error("expected no playback after manual stop")
	}
	if listens, _, _ := h.stt.counts(); listens != listensAtStop {
		t.Errorf("expected no restart after manual stop, listens %d -> %d", listensAtStop, listens)
	}
	if !h.s.Status().Flags.ManualStop {
		t.Error("expected manual stop flag")
	}
	if h.capture.stops.Load() != 1 {
		t.Errorf("expected microphone released once, got %d", h.capture.stops.Load())
	}
}

func TestBackendErrorAppendsOneApologyAndRestarts(t *testing.T) {
	h := newHarness(t, testConfig())
	h.asker.err = &gateway.APIError{Endpoint: gateway.PathAsk, StatusCode: 500}
	h.stt.results = []stt.Result{{Transcript: "hello"}}
	h.start(t)

	h.say()

	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return listens == 2 && h.s.State() == StateListening
	})

	var apologies int
	for _, m := range h.log.Messages() {
		if m.Role == models.RoleAssistant && m.Text == chat.ErrorMessage {
			apologies++
		}
	}
	if apologies != 1 {
		t.Errorf("expected exactly one apology, got %d", apologies)
	}
}

func TestSpeechSynthesisFailureAppendsApology(t *testing.T) {
	h := newHarness(t, testConfig())
	h.asker.noAudio = true
	h.synth.err = &gateway.APIError{Endpoint: gateway.PathTTS, StatusCode: 500}
	h.stt.results = []stt.Result{{Transcript: "hello"}}
	h.start(t)

	h.say()

	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return listens == 2 && h.s.State() == StateListening
	})

	msgs := h.log.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected user, answer and apology, got %d messages", len(msgs))
	}
	if msgs[1].Text != "Aven is a fintech company." {
		t.Errorf("expected the answer text to be kept, got %q", msgs[1].Text)
	}
	if msgs[2].Role != models.RoleAssistant || msgs[2].Text != chat.ErrorMessage {
		t.Errorf("expected apology, got %+v", msgs[2])
	}
	if h.synth.callCount() != 1 {
		t.Errorf("expected one synthesis request, got %d", h.synth.callCount())
	}
	if len(h.sink.Clips()) != 0 {
		t.Error("expected nothing played")
	}
}

func TestCaptureLostReopensMicrophone(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)

	h.s.NotifyCaptureLost(audio.ErrCaptureLost)

	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return h.capture.starts.Load() == 2 && listens == 2
	})
	if h.s.State() != StateListening {
		t.Errorf("expected listening, got %s", h.s.State())
	}
	if st := h.s.Status(); st.Retries != 1 || !st.Flags.RecordingActive {
		t.Errorf("unexpected status after reopening: %+v", st)
	}
	if _, _, aborts := h.stt.counts(); aborts != 1 {
		t.Errorf("expected the listening strategy aborted once, got %d", aborts)
	}
}

func TestCaptureLostReopenDenied(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)

	h.capture.startErr = audio.ErrPermissionDenied
	h.s.NotifyCaptureLost(audio.ErrCaptureLost)

	waitFor(t, func() bool { return h.s.State() == StateIdle })
	if last, ok := h.log.Last(); !ok || last.Text != PermissionDeniedMessage {
		t.Errorf("expected permission notice, got %+v", last)
	}
}

func TestCaptureLostWhileIdleIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	h.s.NotifyCaptureLost(audio.ErrCaptureLost)
	time.Sleep(30 * time.Millisecond)

	if h.s.State() != StateIdle || h.capture.starts.Load() != 0 {
		t.Errorf("expected no effect, state %s starts %d", h.s.State(), h.capture.starts.Load())
	}
}

func TestBargeInStopsPlayback(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sink.SetPlayDuration(time.Hour)
	h.stt.results = []stt.Result{{Transcript: "hello"}}
	h.start(t)

	h.say()
	waitFor(t, func() bool { return h.s.State() == StateSpeaking && h.sink.Active() == 1 })

	h.capture.setLevel(50)
	waitFor(t, func() bool { return h.s.State() == StateListening })
	waitFor(t, func() bool { return h.sink.Active() == 0 })

	time.Sleep(50 * time.Millisecond)
	if listens, _, _ := h.stt.counts(); listens != 2 {
		t.Errorf("expected one listen after barge-in, got %d total", listens)
	}
	if h.s.State() != StateListening {
		t.Errorf("expected to keep listening, got %s", h.s.State())
	}
}

func TestBargeInUtteranceCompletes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sink.SetPlayDuration(time.Hour)
	h.stt.results = []stt.Result{{Transcript: "hello"}, {Transcript: "actually, what about rates"}}
	h.start(t)

	h.say()
	waitFor(t, func() bool { return h.s.State() == StateSpeaking && h.sink.Active() == 1 })

	// Playback runs well past the minimum speaking time before the interruption.
	time.Sleep(100 * time.Millisecond)
	h.say()

	waitFor(t, func() bool {
		_, finishes, _ := h.stt.counts()
		return finishes == 2
	})
	waitFor(t, func() bool { return h.asker.callCount() == 2 })

	msgs := h.log.Messages()
	if len(msgs) < 3 || msgs[2].Text != "actually, what about rates" {
		t.Errorf("expected the interrupting question recorded, got %+v", msgs)
	}
}

func TestBargeInDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.BargeIn = false
	h := newHarness(t, cfg)
	h.sink.SetPlayDuration(time.Hour)
	h.stt.results = []stt.Result{{Transcript: "hello"}}
	h.start(t)

	h.say()
	waitFor(t, func() bool { return h.s.State() == StateSpeaking })

	h.capture.setLevel(50)
	time.Sleep(50 * time.Millisecond)
	if h.s.State() != StateSpeaking || h.sink.Active() != 1 {
		t.Errorf("expected playback to continue, state %s active %d", h.s.State(), h.sink.Active())
	}
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if h.capture.starts.Load() != 1 {
		t.Errorf("expected one microphone acquisition, got %d", h.capture.starts.Load())
	}
	if listens, _, _ := h.stt.counts(); listens != 1 {
		t.Errorf("expected one listen, got %d", listens)
	}
}

func TestPermissionDeniedOnStart(t *testing.T) {
	h := newHarness(t, testConfig())
	h.capture.startErr = audio.ErrPermissionDenied

	err := h.s.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if h.s.State() != StateIdle {
		t.Errorf("expected idle, got %s", h.s.State())
	}
	if last, ok := h.log.Last(); !ok || last.Text != PermissionDeniedMessage {
		t.Errorf("expected permission notice, got %+v", last)
	}
}

func TestErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantState State
		wantMsg   string
	}{
		{"permission denied is fatal", stt.NewError(stt.CodePermissionDenied, nil), StateIdle, PermissionDeniedMessage},
		{"no-speech retries until exhausted", stt.NewError(stt.CodeNoSpeech, nil), StateIdle, TooManyErrorsMessage},
		{"engine errors retry until exhausted", stt.NewError(stt.CodeOther, errors.New("audio-capture")), StateIdle, TooManyErrorsMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.stt.onListen = func(n int, ev stt.Events) { ev.OnError(tt.err) }
			if err := h.s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			waitFor(t, func() bool { return h.s.State() == tt.wantState && h.log.Len() > 0 })
			if last, _ := h.log.Last(); last.Text != tt.wantMsg {
				t.Errorf("unexpected notice %q", last.Text)
			}
			if h.log.Len() != 1 {
				t.Errorf("expected a single notice, got %d messages", h.log.Len())
			}
		})
	}
}

func TestTransientErrorRecovers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stt.onListen = func(n int, ev stt.Events) {
		if n == 1 {
			ev.OnError(stt.NewError(stt.CodeNoSpeech, nil))
		}
	}
	h.start(t)

	waitFor(t, func() bool {
		listens, _, _ := h.stt.counts()
		return listens == 2
	})
	if h.s.State() != StateListening || h.log.Len() != 0 {
		t.Errorf("expected silent recovery, state %s messages %d", h.s.State(), h.log.Len())
	}
	if h.s.Status().Retries != 1 {
		t.Errorf("expected one retry, got %d", h.s.Status().Retries)
	}
}

func TestInactivityStopsSession(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.start(t)

	waitFor(t, func() bool { return h.s.State() == StateIdle })
	if h.s.Status().Flags.RecordingActive {
		t.Error("expected recording flag cleared")
	}
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, testConfig())
	var mu sync.Mutex
	var states []string
	h.s.OnEvent(func(ev models.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.State)
	})

	h.start(t)
	if err := h.s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != "LISTENING" || states[1] != "IDLE" {
		t.Errorf("unexpected state events %v", states)
	}
}

func TestStateString(t *testing.T) {
	for st := StateIdle; st <= StateError; st++ {
		if got := stateFromString(st.String()); got != st {
			t.Errorf("round trip %s -> %s", st, got)
		}
	}
	if State(99).String() != "UNKNOWN" {
		t.Error("expected UNKNOWN for out-of-range state")
	}
}
