package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-support-client/internal/config"
	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/service/chat"
	"voice-support-client/internal/service/conversation"
	"voice-support-client/internal/service/schedule"
	"voice-support-client/internal/service/session"
)

// Voice is the voice session as seen by the control surface.
type Voice interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EnableAudio(ctx context.Context) error
	Status() session.Status
	OnEvent(fn func(models.SessionEvent))
}

// Application holds process-wide state for the client.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Conversation *conversation.Log
	Schedule     *schedule.Store
	Chat         *chat.Service
	Voice        Voice

	backendUp atomic.Bool
}

// New constructs a new Application from the provided configuration and
// components.
func New(cfg *config.Config, log *conversation.Log, store *schedule.Store, chatSvc *chat.Service, voice Voice) *Application {
	a := &Application{
		Cfg:          cfg,
		Conversation: log,
		Schedule:     store,
		Chat:         chatSvc,
		Voice:        voice,
		Logger:       logging.WithComponent("application"),
	}

	a.Logger.Info().Msg("Voice support client application created")
	return a
}

// SetBackendReachable records the outcome of the latest backend health check.
func (a *Application) SetBackendReachable(up bool) {
	if a.backendUp.Swap(up) != up {
		a.Logger.Info().Bool("reachable", up).Msg("Backend reachability changed")
	}
}

// Ready reports whether the backend answered its last health check.
func (a *Application) Ready() bool {
	return a.backendUp.Load()
}

// Start performs any startup work required before serving traffic: the
// greeting is appended to an empty conversation.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	if a.Conversation != nil && a.Conversation.Len() == 0 && a.Cfg != nil && a.Cfg.Voice.Greeting != "" {
		a.Conversation.Append(models.RoleAssistant, a.Cfg.Voice.Greeting, nil)
	}
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice support client starting")
	return nil
}

// Shutdown stops the voice session and releases the microphone.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Voice support client shutting down")
	if a.Voice == nil {
		return
	}
	if err := a.Voice.Stop(ctx); err != nil && err != session.ErrClosed {
		a.Logger.Warn().Err(err).Msg("Voice session stop failed")
	}
}
