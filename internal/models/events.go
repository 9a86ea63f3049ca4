package models

// Event types published to the UI hub and to Kafka.
const (
	EventMessageAppended = "conversation.message.appended"
	EventSessionState    = "voice.session.state"
	EventAudioEnable     = "voice.audio.enable_required"
	EventScheduleUpdated = "schedule.state.updated"
)

// MessageEvent announces a conversation message.
type MessageEvent struct {
	EventType string              `json:"eventType"`
	Principal string              `json:"principal,omitempty"`
	Message   ConversationMessage `json:"message"`
	Timestamp int64               `json:"timestamp"`
}

// SessionEvent announces a voice session state change or prompt.
type SessionEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	From      string `json:"from,omitempty"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ScheduleEvent announces the current scheduling state (nil when discarded).
type ScheduleEvent struct {
	EventType string         `json:"eventType"`
	State     *ScheduleState `json:"state"`
	Timestamp int64          `json:"timestamp"`
}
