package stt

import (
	"context"
	"errors"
	"strings"

	"voice-support-client/internal/gateway"
	"voice-support-client/internal/models"
)

// VoiceAsker is the combined transcribe, answer and synthesize endpoint.
type VoiceAsker interface {
	VoiceAsk(ctx context.Context, clip models.AudioClip, state *models.ScheduleState) (*models.Reply, error)
}

// Transcriber is the transcript-only endpoint.
type Transcriber interface {
	Transcribe(ctx context.Context, clip models.AudioClip) (string, error)
}

// VoiceAskUploader uploads clips to /voice-ask. The result carries the
// backend reply, so the caller does not issue a separate question.
type VoiceAskUploader struct {
	gw VoiceAsker
}

// NewVoiceAskUploader creates an uploader over gw.
func NewVoiceAskUploader(gw VoiceAsker) *VoiceAskUploader {
	return &VoiceAskUploader{gw: gw}
}

// Upload implements Uploader.
func (u *VoiceAskUploader) Upload(ctx context.Context, clip models.AudioClip, state *models.ScheduleState) (Result, error) {
	reply, err := u.gw.VoiceAsk(ctx, clip, state)
	if err != nil {
		if isEmptyTranscript(err) {
			return Result{}, nil
		}
		return Result{}, err
	}
	return Result{Transcript: reply.Transcript, Reply: reply}, nil
}

// isEmptyTranscript matches the backend's answer to a clip with no
// usable speech, which is treated like an empty transcript.
func isEmptyTranscript(err error) bool {
	var replyErr *gateway.ReplyError
	if !errors.As(err, &replyErr) {
		return false
	}
	return strings.TrimSpace(replyErr.Transcript) == "" &&
		strings.HasPrefix(strings.ToLower(replyErr.Message), "empty")
}

// TranscribeUploader uploads clips to /stt for a transcript only.
type TranscribeUploader struct {
	gw Transcriber
}

// NewTranscribeUploader creates an uploader over gw.
func NewTranscribeUploader(gw Transcriber) *TranscribeUploader {
	return &TranscribeUploader{gw: gw}
}

// Upload implements Uploader. The schedule state is not needed for a
// transcript-only request.
func (u *TranscribeUploader) Upload(ctx context.Context, clip models.AudioClip, _ *models.ScheduleState) (Result, error) {
	text, err := u.gw.Transcribe(ctx, clip)
	if err != nil {
		return Result{}, err
	}
	return Result{Transcript: text}, nil
}
