package schema

import (
	"errors"
	"testing"

	"voice-support-client/internal/models"
)

func TestValidateReply(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		reply   *models.Reply
		wantErr bool
	}{
		{"nil reply", nil, true},
		{"missing answer", &models.Reply{Transcript: "hi"}, true},
		{"plain answer", &models.Reply{Answer: "Aven offers a HELOC card."}, false},
		{"voice answer without audio", &models.Reply{Answer: "ok"}, false},
		{"valid schedule", &models.Reply{
			Answer:        "Pick a time",
			ScheduleState: &models.ScheduleState{Active: true, Stage: models.StageAwaitingTime},
		}, false},
		{"unknown stage", &models.Reply{
			Answer:        "Pick a time",
			ScheduleState: &models.ScheduleState{Active: true, Stage: "negotiating"},
		}, true},
		{"inactive with unknown stage", &models.Reply{
			Answer:        "ok",
			ScheduleState: &models.ScheduleState{Active: false, Stage: "whatever"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateReply(tt.reply, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateSchedule_UnparseableTimesAccepted(t *testing.T) {
	s := &models.ScheduleState{
		Active:         true,
		Stage:          models.StageAwaitingTime,
		AvailableTimes: []string{"2025-07-01T10:00:00", "tomorrow-ish"},
	}
	if err := New().ValidateSchedule(s); err != nil {
		t.Errorf("expected times to be carried verbatim, got %v", err)
	}
}
