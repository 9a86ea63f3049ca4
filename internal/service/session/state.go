package session

// State is the voice session phase.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateQuerying
	StateSpeaking
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateQuerying:
		return "QUERYING"
	case StateSpeaking:
		return "SPEAKING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Active returns true for every state except idle.
func (s State) Active() bool {
	return s != StateIdle
}

// Flags are the control flags of a session. A flag is never the only
// record of a phase; State is authoritative.
type Flags struct {
	RecordingActive      bool `json:"recordingActive"`
	ManualStop           bool `json:"manualStop"`
	RestartInProgress    bool `json:"restartInProgress"`
	AudioEnabled         bool `json:"audioEnabled"`
	HasSpokenInUtterance bool `json:"hasSpokenInUtterance"`
}

// Status is a point-in-time view of the session for the UI.
type Status struct {
	SessionID string `json:"sessionId,omitempty"`
	State     string `json:"state"`
	Strategy  string `json:"strategy,omitempty"`
	Flags     Flags  `json:"flags"`
	Retries   int    `json:"transientRetries"`
}
