// Package session runs the hands-free voice loop: listen, transcribe, ask,
// speak, listen again. All session state is owned by a single event loop
// goroutine; capture, recognition, network and playback callbacks post
// back into it tagged with the generation they were started under, and
// anything from an older generation is dropped.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
	"voice-support-client/internal/service/playback"
	"voice-support-client/internal/service/silence"
	"voice-support-client/internal/service/stt"
	"voice-support-client/internal/service/timer"
	"voice-support-client/internal/service/utterance"
)

// Notices appended to the conversation by the voice loop itself.
const (
	PermissionDeniedMessage = "Microphone access was denied. Please allow microphone access and start voice mode again."
	TooManyErrorsMessage    = "Voice input stopped after repeated recognition errors. Please try again."
)

var (
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("session: closed")
)

// Capture is the microphone for one session.
type Capture interface {
	Start(ctx context.Context) error
	Stop() error
	Level() int
}

// Transcriber is the transcription adapter.
type Transcriber interface {
	Reset(sessionID string) stt.Mode
	Mode() stt.Mode
	Listen(ctx context.Context, ev stt.Events) error
	Finish(ctx context.Context, state *models.ScheduleState) error
	Abort()
}

// Player is the playback controller.
type Player interface {
	Speak(ctx context.Context, text string, clip []byte, onEnded func(error))
	Stop() bool
	IsPlaying() bool
	EnableAudio(ctx context.Context) error
	AudioEnabled() bool
}

// Chat commits turns to the conversation.
type Chat interface {
	Query(ctx context.Context, text string) (*models.Reply, error)
	AddUserMessage(text string) models.ConversationMessage
	Commit(reply *models.Reply) models.ConversationMessage
	Fail(err error) models.ConversationMessage
	Notify(text string) models.ConversationMessage
}

// Snapshotter returns the scheduling state to send with a turn.
type Snapshotter interface {
	Snapshot() *models.ScheduleState
}

// Config tunes the loop.
type Config struct {
	RestartDelay        time.Duration
	InactivityTimeout   time.Duration
	MaxTransientRetries int
	BargeIn             bool
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		RestartDelay:        200 * time.Millisecond,
		InactivityTimeout:   2 * time.Minute,
		MaxTransientRetries: 5,
		BargeIn:             true,
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	Capture     Capture
	Transcriber Transcriber
	Player      Player
	Chat        Chat
	Schedule    Snapshotter
	Detector    *silence.Detector
}

// Session is the voice interaction state machine.
type Session struct {
	cfg      Config
	deps     Deps
	ids      *utterance.Generator
	metrics  *metrics.Metrics
	mailbox  chan func()
	done     chan struct{}
	started  atomic.Bool
	runCtx   context.Context
	restart  *timer.Debouncer
	idle     *timer.Debouncer
	recorded atomic.Bool

	// Owned by the loop goroutine.
	id        string
	state     State
	flags     Flags
	gen       uint64
	window    uint64
	speakGen  uint64
	retries   int
	lostMic   bool
	current   *utterance.Lifecycle
	stopDetec context.CancelFunc
	logger    zerolog.Logger

	mu        sync.RWMutex
	status    Status
	listeners []func(models.SessionEvent)
}

// New creates a session. Run must be started before any other call.
func New(cfg Config, deps Deps) *Session {
	if cfg.MaxTransientRetries <= 0 {
		cfg.MaxTransientRetries = DefaultConfig().MaxTransientRetries
	}
	if deps.Detector == nil {
		deps.Detector = silence.NewDetector(silence.DefaultConfig())
	}
	s := &Session{
		cfg:     cfg,
		deps:    deps,
		ids:     utterance.New(),
		metrics: metrics.DefaultMetrics,
		mailbox: make(chan func(), 64),
		done:    make(chan struct{}),
		restart: timer.New(cfg.RestartDelay),
		idle:    timer.New(cfg.InactivityTimeout),
		state:   StateIdle,
		logger:  logging.WithComponent("session"),
	}
	s.status = Status{State: StateIdle.String()}
	return s
}

// OnEvent registers a listener for state changes and prompts. Listeners
// are called from the loop goroutine and must not block.
func (s *Session) OnEvent(fn func(models.SessionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Run processes session events until ctx is cancelled. An active session
// is stopped on the way out.
func (s *Session) Run(ctx context.Context) {
	s.runCtx = ctx
	s.started.Store(true)
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.stop("shutdown")
			return
		case fn := <-s.mailbox:
			fn()
		}
	}
}

// post queues fn for the loop. It returns false once the loop has exited.
func (s *Session) post(fn func()) bool {
	select {
	case s.mailbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	if !s.started.Load() {
		return ErrClosed
	}
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Start begins a voice session. Starting while a session is active is a
// no-op.
func (s *Session) Start(ctx context.Context) error {
	return s.call(ctx, s.start)
}

// Stop ends the session from any phase. In-flight requests are not
// cancelled; their results are ignored.
func (s *Session) Stop(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.stop("manual")
		return nil
	})
}

// EnableAudio is the user gesture that unlocks playback.
func (s *Session) EnableAudio(ctx context.Context) error {
	return s.call(ctx, func() error {
		if err := s.deps.Player.EnableAudio(ctx); err != nil {
			return err
		}
		s.flags.AudioEnabled = true
		s.publishStatus()
		return nil
	})
}

// Status returns the latest published status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateFromString(s.status.State)
}

func (s *Session) start() error {
	if s.state != StateIdle {
		s.logger.Debug().Str("state", s.state.String()).Msg("Start ignored, session already active")
		return nil
	}

	s.gen++
	s.id = uuid.New().String()
	s.logger = logging.WithSession(s.id)
	s.flags = Flags{AudioEnabled: s.deps.Player.AudioEnabled()}
	s.retries = 0
	s.lostMic = false

	if err := s.deps.Capture.Start(s.runCtx); err != nil {
		s.logger.Error().Err(err).Msg("Microphone unavailable")
		if stt.IsFatal(err) {
			s.deps.Chat.Notify(PermissionDeniedMessage)
		}
		s.transition(StateError, "capture-failed")
		s.transition(StateIdle, "capture-failed")
		return err
	}

	s.flags.RecordingActive = true
	s.recorded.Store(true)
	mode := s.deps.Transcriber.Reset(s.id)
	s.metrics.RecordSessionStart()
	s.logger.Info().Str("strategy", string(mode)).Msg("Voice session started")

	s.enterListening("start", false)
	s.armInactivity()
	return nil
}

func (s *Session) stop(reason string) {
	if s.state == StateIdle {
		return
	}
	s.gen++
	s.flags.ManualStop = reason == "manual"
	s.flags.RecordingActive = false
	s.flags.RestartInProgress = false
	s.recorded.Store(false)

	s.restart.Cancel()
	s.idle.Cancel()
	s.stopDetector()
	s.deps.Transcriber.Abort()
	s.deps.Player.Stop()
	if err := s.deps.Capture.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Microphone release failed")
	}
	if s.current != nil {
		s.current.Drop()
		s.current = nil
	}

	s.transition(StateIdle, reason)
	s.metrics.RecordSessionStop(reason)
	s.logger.Info().Str("reason", reason).Msg("Voice session stopped")
}

// enterListening opens a new utterance. After a barge-in the window opens
// mid-speech, timed from the interruption.
func (s *Session) enterListening(reason string, bargeIn bool) {
	s.flags.RestartInProgress = false
	s.current = utterance.NewLifecycle(s.ids.Next(s.id))
	s.transition(StateListening, reason)
	s.openWindow(bargeIn)

	gen := s.gen
	if err := s.deps.Transcriber.Listen(s.runCtx, &sttEvents{s: s, gen: gen}); err != nil {
		s.onTranscriptionError(gen, err)
	}
}

// openWindow starts a fresh silence detection window.
func (s *Session) openWindow(speaking bool) {
	s.stopDetector()
	s.window++
	s.flags.HasSpokenInUtterance = speaking

	gen, window := s.gen, s.window
	ctx, cancel := context.WithCancel(s.runCtx)
	s.stopDetec = cancel
	run := s.deps.Detector.Run
	if speaking {
		run = s.deps.Detector.RunSpeaking
	}
	go run(ctx, s.deps.Capture, s.recorded.Load, func(ev silence.Event) {
		s.post(func() { s.onSilence(gen, window, ev) })
	})
}

func (s *Session) stopDetector() {
	if s.stopDetec != nil {
		s.stopDetec()
		s.stopDetec = nil
	}
}

func (s *Session) stale(gen uint64) bool {
	return gen != s.gen || s.flags.ManualStop || !s.flags.RecordingActive
}

func (s *Session) onSilence(gen, window uint64, ev silence.Event) {
	if s.stale(gen) || window != s.window {
		return
	}
	switch ev {
	case silence.EventSpeechStart:
		s.flags.HasSpokenInUtterance = true
		s.armInactivity()
		if s.state == StateSpeaking {
			s.bargeIn()
			return
		}
		s.publishStatus()

	case silence.EventUtteranceComplete:
		if s.state != StateListening || s.flags.RestartInProgress {
			return
		}
		s.turnLogger().Debug().Msg("Utterance complete")
		s.transition(StateTranscribing, "silence")
		s.stopDetector()
		if err := s.deps.Transcriber.Finish(s.runCtx, s.deps.Schedule.Snapshot()); err != nil {
			s.turnLogger().Debug().Err(err).Msg("Nothing to finish, restarting")
			s.scheduleRestart("not-listening")
		}
	}
}

func (s *Session) bargeIn() {
	s.turnLogger().Info().Msg("Barge-in, stopping playback")
	s.speakGen++
	s.deps.Player.Stop()
	s.metrics.RecordBargeIn()
	if s.current != nil {
		s.current.Close()
	}
	s.enterListening("barge-in", true)
}

func (s *Session) onTranscript(gen uint64, res stt.Result) {
	if s.stale(gen) {
		s.logger.Debug().Msg("Late transcript ignored")
		return
	}
	if s.state != StateListening && s.state != StateTranscribing {
		return
	}
	s.stopDetector()
	lc := s.current
	if lc == nil || lc.Transcribed() != nil {
		return
	}

	text := strings.TrimSpace(res.Transcript)
	logger := s.turnLogger()
	if text == "" {
		logger.Debug().Str("strategy", string(res.Strategy)).Msg("Empty transcript")
		s.metrics.RecordUtterance(true)
		lc.Drop()
		s.scheduleRestart("empty")
		return
	}

	logger.Info().Str("strategy", string(res.Strategy)).Int("chars", len(text)).Msg("Transcript received")
	s.metrics.RecordUtterance(false)
	s.retries = 0
	s.armInactivity()
	s.deps.Chat.AddUserMessage(text)
	s.transition(StateQuerying, "transcript")

	if res.Reply != nil {
		s.onReply(gen, lc, res.Reply, nil)
		return
	}
	ctx := s.runCtx
	go func() {
		reply, err := s.deps.Chat.Query(ctx, text)
		s.post(func() { s.onReply(gen, lc, reply, err) })
	}()
}

func (s *Session) onReply(gen uint64, lc *utterance.Lifecycle, reply *models.Reply, err error) {
	if s.stale(gen) || s.state != StateQuerying || lc != s.current {
		s.logger.Debug().Msg("Late reply ignored")
		return
	}
	if err != nil {
		s.deps.Chat.Fail(err)
		lc.Drop()
		s.transition(StateError, "backend-error")
		s.scheduleRestart("backend-error")
		return
	}

	if err := lc.Answered(); err != nil {
		s.turnLogger().Warn().Err(err).Msg("Reply out of order")
		return
	}
	s.deps.Chat.Commit(reply)
	s.speak(reply)
}

func (s *Session) speak(reply *models.Reply) {
	s.transition(StateSpeaking, "reply")
	if s.cfg.BargeIn {
		s.openWindow(false)
	}
	s.speakGen++
	gen, spk := s.gen, s.speakGen
	s.deps.Player.Speak(s.runCtx, reply.Answer, reply.Audio, func(err error) {
		s.post(func() { s.onPlaybackEnded(gen, spk, err) })
	})
}

func (s *Session) onPlaybackEnded(gen, spk uint64, err error) {
	if s.stale(gen) || spk != s.speakGen || s.state != StateSpeaking {
		return
	}
	if s.current != nil {
		s.current.Close()
	}
	switch {
	case err == nil:
	case errors.Is(err, playback.ErrSynthesis) && !errors.Is(err, context.Canceled):
		s.deps.Chat.Fail(err)
		s.transition(StateError, "backend-error")
		s.scheduleRestart("backend-error")
		return
	default:
		s.turnLogger().Warn().Err(err).Msg("Playback ended with error")
	}
	s.scheduleRestart("playback-ended")
}

func (s *Session) onTranscriptionError(gen uint64, err error) {
	if s.stale(gen) {
		return
	}
	code := stt.CodeOf(err)
	logger := s.turnLogger().With().Str("code", string(code)).Logger()

	switch {
	case code == stt.CodeAborted:
		logger.Debug().Msg("Recognition aborted")

	case stt.IsFatal(err):
		logger.Error().Err(err).Msg("Microphone permission denied")
		s.deps.Chat.Notify(PermissionDeniedMessage)
		s.transition(StateError, "permission-denied")
		s.stop("permission-denied")

	case code == stt.CodeNetwork:
		s.deps.Chat.Fail(err)
		if s.current != nil {
			s.current.Drop()
		}
		s.transition(StateError, "backend-error")
		s.scheduleRestart("backend-error")

	default:
		s.retries++
		if s.retries > s.cfg.MaxTransientRetries {
			logger.Error().Err(err).Int("retries", s.retries-1).Msg("Too many recognition errors")
			s.deps.Chat.Notify(TooManyErrorsMessage)
			s.transition(StateError, "retries-exhausted")
			s.stop("retries-exhausted")
			return
		}
		logger.Warn().Err(err).Int("retry", s.retries).Msg("Recognition error, restarting")
		if s.current != nil {
			s.current.Drop()
		}
		s.scheduleRestart("transient")
	}
}

func (s *Session) onTranscriptionEnd(gen uint64) {
	if s.stale(gen) {
		return
	}
	if s.state != StateListening && s.state != StateTranscribing {
		return
	}
	if s.flags.RestartInProgress {
		return
	}
	s.turnLogger().Debug().Msg("Recognition ended without result")
	if s.current != nil {
		s.current.Drop()
	}
	s.scheduleRestart("engine-end")
}

// scheduleRestart moves to Listening and opens the next utterance after
// the restart delay. At most one restart is pending.
func (s *Session) scheduleRestart(cause string) {
	if s.flags.ManualStop || !s.flags.RecordingActive {
		return
	}
	s.stopDetector()
	if s.flags.RestartInProgress {
		return
	}
	s.flags.RestartInProgress = true
	s.metrics.RecordRestart(cause)
	s.transition(StateListening, cause)

	gen := s.gen
	s.restart.Schedule(func() {
		s.post(func() { s.onRestart(gen, cause) })
	})
}

func (s *Session) onRestart(gen uint64, cause string) {
	if s.stale(gen) || !s.flags.RestartInProgress {
		return
	}
	if s.deps.Player.IsPlaying() {
		s.flags.RestartInProgress = false
		return
	}
	if s.lostMic {
		if err := s.deps.Capture.Start(s.runCtx); err != nil {
			s.flags.RestartInProgress = false
			if !stt.IsFatal(err) {
				err = stt.NewError(stt.CodeOther, err)
			}
			s.onTranscriptionError(gen, err)
			return
		}
		s.lostMic = false
		s.logger.Info().Msg("Microphone reopened")
	}
	s.enterListening(cause, false)
}

func (s *Session) armInactivity() {
	if s.cfg.InactivityTimeout <= 0 {
		return
	}
	gen := s.gen
	s.idle.Schedule(func() {
		s.post(func() {
			if gen != s.gen || s.state == StateIdle {
				return
			}
			s.logger.Info().Dur("timeout", s.cfg.InactivityTimeout).Msg("No speech, stopping voice session")
			s.stop("inactivity")
		})
	})
}

func (s *Session) transition(to State, reason string) {
	from := s.state
	s.state = to
	if from != to {
		s.metrics.RecordTransition(from.String(), to.String())
		s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Str("reason", reason).Msg("State transition")
	}
	s.publishStatus()
	s.emit(models.SessionEvent{
		EventType: models.EventSessionState,
		SessionID: s.id,
		From:      from.String(),
		State:     to.String(),
		Reason:    reason,
		Strategy:  string(s.deps.Transcriber.Mode()),
		Timestamp: time.Now().UnixMilli(),
	})
}

// NotifyAutoplayBlocked prompts the UI to ask for the enabling gesture.
func (s *Session) NotifyAutoplayBlocked() {
	s.post(func() {
		s.emit(models.SessionEvent{
			EventType: models.EventAudioEnable,
			SessionID: s.id,
			State:     s.state.String(),
			Reason:    "autoplay-blocked",
			Timestamp: time.Now().UnixMilli(),
		})
	})
}

// NotifyCaptureLost reports that the microphone stream ended without a
// stop. The next restart reopens the device.
func (s *Session) NotifyCaptureLost(err error) {
	s.post(func() { s.onCaptureLost(err) })
}

func (s *Session) onCaptureLost(err error) {
	if s.state == StateIdle || !s.flags.RecordingActive {
		return
	}
	s.lostMic = true
	s.stopDetector()
	if s.state != StateListening {
		// The turn in flight finishes and its restart reopens the device.
		s.logger.Warn().Err(err).Msg("Microphone lost, reopening after this turn")
		return
	}
	s.deps.Transcriber.Abort()
	s.onTranscriptionError(s.gen, stt.NewError(stt.CodeOther, err))
}

func (s *Session) publishStatus() {
	st := Status{
		SessionID: s.id,
		State:     s.state.String(),
		Flags:     s.flags,
		Retries:   s.retries,
	}
	if s.state != StateIdle {
		st.Strategy = string(s.deps.Transcriber.Mode())
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) emit(ev models.SessionEvent) {
	s.mu.RLock()
	listeners := make([]func(models.SessionEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Session) turnLogger() *zerolog.Logger {
	if s.current == nil {
		return &s.logger
	}
	l := logging.WithTurn(s.id, s.current.UtteranceId())
	return &l
}

func stateFromString(v string) State {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == v {
			return st
		}
	}
	return StateIdle
}

// sttEvents forwards adapter callbacks into the loop.
type sttEvents struct {
	s   *Session
	gen uint64
}

func (e *sttEvents) OnTranscript(res stt.Result) {
	e.s.post(func() { e.s.onTranscript(e.gen, res) })
}

func (e *sttEvents) OnError(err error) {
	e.s.post(func() { e.s.onTranscriptionError(e.gen, err) })
}

func (e *sttEvents) OnEnd() {
	e.s.post(func() { e.s.onTranscriptionEnd(e.gen) })
}
