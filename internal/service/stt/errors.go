package stt

import (
	"context"
	"errors"
	"fmt"

	"voice-support-client/internal/audio"
)

// ErrorCode classifies a transcription failure.
type ErrorCode string

const (
	// CodePermissionDenied is fatal to the voice session.
	CodePermissionDenied ErrorCode = "permission-denied"
	// CodeAborted is expected on manual stop and never retried.
	CodeAborted ErrorCode = "aborted"
	// CodeNoSpeech means nothing was heard.
	CodeNoSpeech ErrorCode = "no-speech"
	// CodeNetwork is a backend failure during a batch upload.
	CodeNetwork ErrorCode = "network"
	// CodeOther covers any other engine failure.
	CodeOther ErrorCode = "other"
)

// ErrNotListening is returned by Finish when no instance is live.
var ErrNotListening = errors.New("stt: not listening")

// RecognitionError is a classified transcription failure.
type RecognitionError struct {
	Code ErrorCode
	Err  error
}

// Error implements the error interface.
func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stt: %s", e.Code)
	}
	return fmt.Sprintf("stt: %s: %v", e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *RecognitionError) Unwrap() error { return e.Err }

// NewError wraps err with a code.
func NewError(code ErrorCode, err error) *RecognitionError {
	return &RecognitionError{Code: code, Err: err}
}

// CodeOf classifies err.
func CodeOf(err error) ErrorCode {
	var recErr *RecognitionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &recErr):
		return recErr.Code
	case errors.Is(err, audio.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, context.Canceled):
		return CodeAborted
	default:
		return CodeOther
	}
}

// IsFatal reports whether err ends the voice session.
func IsFatal(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsTransient reports whether err is a device or engine hiccup that is
// recovered by restarting listening.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeNoSpeech, CodeOther:
		return true
	default:
		return false
	}
}
