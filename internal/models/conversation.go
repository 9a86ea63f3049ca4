// Package models defines the data structures shared by the voice loop,
// the text path and the backend gateway.
package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry of the conversation. Entries are
// immutable once appended.
type ConversationMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AudioClip is captured audio between recorder stop and transcription submit.
type AudioClip struct {
	Data       []byte
	Encoding   string // MIME type, e.g. audio/wav
	SampleRate int
}

// Filename returns an upload filename matching the clip encoding.
func (c AudioClip) Filename() string {
	switch c.Encoding {
	case "audio/webm":
		return "recording.webm"
	case "audio/mpeg":
		return "recording.mp3"
	default:
		return "recording.wav"
	}
}

// Reply is the client's view of a backend answer, covering both the text
// (/ask) and the combined voice (/voice-ask) responses.
type Reply struct {
	Transcript    string
	Answer        string
	Sources       []string
	ScheduleState *ScheduleState
	// ScheduleUpdate is set when the response carried a schedule_state key,
	// including an explicit null that discards the dialogue.
	ScheduleUpdate  bool
	TriggerSchedule bool
	Audio           []byte
	AudioFormat     string
	Violations      []string
}
