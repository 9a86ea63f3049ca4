// Package schema validates backend payloads before they reach the
// conversation or the scheduling dialogue.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"voice-support-client/internal/models"
)

// ErrInvalid marks a payload that failed validation.
var ErrInvalid = errors.New("schema: invalid payload")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateReply checks an answer from /ask or /voice-ask. requireAudio is set
// for the voice path, where the backend is expected to return speech.
func (v *Validator) ValidateReply(r *models.Reply, requireAudio bool) error {
	if r == nil {
		return fmt.Errorf("%w: empty reply", ErrInvalid)
	}
	if r.Answer == "" {
		return fmt.Errorf("%w: reply has no answer", ErrInvalid)
	}
	if requireAudio && len(r.Audio) == 0 {
		log.Debug().Msg("Voice reply carries no audio, synthesis will be requested")
	}
	if r.ScheduleState != nil {
		if err := v.ValidateSchedule(r.ScheduleState); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchedule checks a schedule state snapshot. Times that do not parse
// are logged, not rejected: the client carries them verbatim.
func (v *Validator) ValidateSchedule(s *models.ScheduleState) error {
	if s == nil {
		return nil
	}
	if s.Active && !s.Stage.Valid() {
		return fmt.Errorf("%w: unknown schedule stage %q", ErrInvalid, s.Stage)
	}
	for _, t := range s.AvailableTimes {
		if _, err := models.ParseTime(t); err != nil {
			log.Warn().Str("time", t).Msg("Schedule state carries an unparseable time")
		}
	}
	return nil
}
