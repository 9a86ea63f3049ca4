package utterance

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an utterance.
type State int

const (
	// StateOpen - Capturing speech.
	StateOpen State = iota
	// StateTranscribed - Transcript obtained, question in flight.
	StateTranscribed
	// StateAnswered - Reply committed to the conversation.
	StateAnswered
	// StateClosed - Utterance finished normally.
	StateClosed
	// StateDropped - Utterance abandoned (manual stop, empty transcript,
	// error). Nothing further may be committed for it.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateTranscribed:
		return "TRANSCRIBED"
	case StateAnswered:
		return "ANSWERED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrUtteranceClosed        = errors.New("utterance is closed")
	ErrAlreadyTranscribed     = errors.New("transcript already recorded for this utterance")
	ErrAlreadyAnswered        = errors.New("reply already committed for this utterance")
	ErrAnswerBeforeTranscript = errors.New("cannot commit a reply before the transcript")
)

// Lifecycle manages the state machine for a single utterance.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN → TRANSCRIBED → ANSWERED → CLOSED
//	  │         │            │
//	  └─────────┴────────────┴── Drop() ──→ DROPPED
//
// Rules:
//   - A transcript is recorded once.
//   - A reply is committed once, and only after the transcript.
//   - Terminal states reject everything.
type Lifecycle struct {
	mu          sync.RWMutex
	utteranceId string
	state       State
}

// NewLifecycle creates a new utterance lifecycle in OPEN state.
func NewLifecycle(utteranceId string) *Lifecycle {
	return &Lifecycle{
		utteranceId: utteranceId,
		state:       StateOpen,
	}
}

// UtteranceId returns the utterance ID.
func (l *Lifecycle) UtteranceId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utteranceId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true if the utterance is in a terminal state.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Transcribed records that the transcript was obtained.
func (l *Lifecycle) Transcribed() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateTranscribed
		return nil
	case StateTranscribed, StateAnswered:
		return ErrAlreadyTranscribed
	default:
		return ErrUtteranceClosed
	}
}

// Answered records that the reply was committed.
func (l *Lifecycle) Answered() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateTranscribed:
		l.state = StateAnswered
		return nil
	case StateOpen:
		return ErrAnswerBeforeTranscript
	case StateAnswered:
		return ErrAlreadyAnswered
	default:
		return ErrUtteranceClosed
	}
}

// Close transitions the utterance to CLOSED state. Idempotent; a dropped
// utterance stays dropped.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the utterance.
// Returns true if the utterance was dropped, false if already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}
