package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage is a step of the scheduling dialogue.
type Stage string

const (
	StageOffering        Stage = "offering"
	StageAwaitingTime    Stage = "awaitingTime"
	StageAwaitingContact Stage = "awaitingContact"
	StageConfirming      Stage = "confirming"
	StageDone            Stage = "done"
	StageCancelled       Stage = "cancelled"
)

var stageOrder = map[Stage]int{
	StageOffering:        0,
	StageAwaitingTime:    1,
	StageAwaitingContact: 2,
	StageConfirming:      3,
	StageDone:            4,
	StageCancelled:       4,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// IsTerminal returns true for done and cancelled.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageCancelled
}

// CanAdvanceTo reports whether moving from s to next respects the dialogue
// order: forward (or staying put, e.g. contact collected over several turns),
// or out to a terminal stage from anywhere non-terminal.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return stageOrder[next] >= stageOrder[s]
}

// Contact holds the details collected during awaitingContact.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// ScheduleState is the scheduling dialogue progress. It round-trips verbatim
// between client and backend each turn: a state decoded from a backend
// response marshals back to the exact bytes it was decoded from.
type ScheduleState struct {
	Active         bool     `json:"active"`
	Stage          Stage    `json:"stage"`
	AvailableTimes []string `json:"available_times,omitempty"`
	ChosenTime     string   `json:"chosen_time,omitempty"`
	Contact        *Contact `json:"contact,omitempty"`

	raw json.RawMessage
}

type scheduleStateFields ScheduleState

// UnmarshalJSON decodes the fields and keeps the original bytes.
func (s *ScheduleState) UnmarshalJSON(data []byte) error {
	var f scheduleStateFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = ScheduleState(f)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original backend bytes when present.
func (s ScheduleState) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}
	return json.Marshal(scheduleStateFields(s))
}

// Clone returns a deep copy, including the original bytes.
func (s *ScheduleState) Clone() *ScheduleState {
	if s == nil {
		return nil
	}
	out := *s
	if s.AvailableTimes != nil {
		out.AvailableTimes = append([]string(nil), s.AvailableTimes...)
	}
	if s.Contact != nil {
		c := *s.Contact
		out.Contact = &c
	}
	if s.raw != nil {
		out.raw = append(json.RawMessage(nil), s.raw...)
	}
	return &out
}

// timeLayouts covers RFC 3339 and the zone-less ISO form some backends emit.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}

// ParseTime parses an ISO timestamp as sent in available_times.
func ParseTime(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// String returns a compact description for logs.
func (s *ScheduleState) String() string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("active=%v stage=%s times=%d", s.Active, s.Stage, len(s.AvailableTimes))
}

// BookingRequest is the payload of /schedule-support-call.
type BookingRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Notes    string `json:"notes"`
	DateTime string `json:"datetime"`
}

// BookingConfirmation is the response of /schedule-support-call.
type BookingConfirmation struct {
	Message   string `json:"message"`
	EventLink string `json:"event_link,omitempty"`
}
