// Package chat runs one question and answer turn against the backend. The
// text path and the voice loop share it so that both read the scheduling
// state at issue time and commit replies the same way.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"voice-support-client/internal/gateway"
	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/service/conversation"
	"voice-support-client/internal/service/schedule"
)

// ErrorMessage is appended when the backend cannot be reached.
const ErrorMessage = "Sorry, there was an error connecting to the server."

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("chat: empty message")

// Asker is the question endpoint.
type Asker interface {
	Ask(ctx context.Context, question string, state *models.ScheduleState) (*models.Reply, error)
}

// Service commits turns to the conversation and the scheduling store.
type Service struct {
	gw     Asker
	store  *schedule.Store
	log    *conversation.Log
	logger zerolog.Logger
}

// New creates a chat service.
func New(gw Asker, store *schedule.Store, log *conversation.Log) *Service {
	return &Service{
		gw:     gw,
		store:  store,
		log:    log,
		logger: logging.WithComponent("chat"),
	}
}

// Query asks the backend, sending the scheduling state current right now.
func (s *Service) Query(ctx context.Context, text string) (*models.Reply, error) {
	return s.gw.Ask(ctx, text, s.store.Snapshot())
}

// AddUserMessage appends the user's side of a turn.
func (s *Service) AddUserMessage(text string) models.ConversationMessage {
	return s.log.Append(models.RoleUser, text, nil)
}

// Commit appends the assistant reply and applies its scheduling update.
func (s *Service) Commit(reply *models.Reply) models.ConversationMessage {
	msg := s.log.Append(models.RoleAssistant, reply.Answer, reply.Sources)
	s.store.Apply(reply)
	return msg
}

// Fail appends exactly one assistant message for a failed turn: the
// backend's own explanation when it sent one, the generic apology
// otherwise.
func (s *Service) Fail(err error) models.ConversationMessage {
	s.logger.Warn().Err(err).Msg("Turn failed")
	return s.log.Append(models.RoleAssistant, FailureText(err), nil)
}

// FailureText returns the assistant text shown for err.
func FailureText(err error) string {
	var replyErr *gateway.ReplyError
	if errors.As(err, &replyErr) && strings.TrimSpace(replyErr.Answer) != "" {
		return replyErr.Answer
	}
	return ErrorMessage
}

// SubmitText runs a typed turn: user message, question, reply.
func (s *Service) SubmitText(ctx context.Context, text string) (*models.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	s.AddUserMessage(text)

	reply, err := s.Query(ctx, text)
	if err != nil {
		s.Fail(err)
		return nil, err
	}
	s.Commit(reply)
	return reply, nil
}

// Notify appends an assistant notice that is not a backend answer.
func (s *Service) Notify(text string) models.ConversationMessage {
	return s.log.Append(models.RoleAssistant, text, nil)
}
