// Package http is the local control surface: a chi router that drives the
// text path, the voice session and the scheduling endpoints, plus a
// websocket event stream for the presentation layer.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-support-client/internal/app"
	"voice-support-client/internal/audio"
	"voice-support-client/internal/models"
	"voice-support-client/internal/service/chat"
	"voice-support-client/internal/service/session"
)

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Answer   string                `json:"answer"`
	Sources  []string              `json:"sources,omitempty"`
	Schedule *models.ScheduleState `json:"schedule_state"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewRouter constructs the HTTP router for the client.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("backend unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{app: application}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/messages", h.listMessages)
		r.Post("/messages", h.postMessage)

		r.Route("/voice", func(r chi.Router) {
			r.Post("/start", h.voiceStart)
			r.Post("/stop", h.voiceStop)
			r.Get("/status", h.voiceStatus)
		})
		r.Post("/audio/enable", h.enableAudio)

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", h.scheduleState)
			r.Get("/available-times", h.availableTimes)
			r.Post("/book", h.book)
		})

		if hub != nil {
			r.Get("/events", wsHandler(hub))
		}
	})

	return r
}

type handlers struct {
	app *app.Application
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Conversation.Messages())
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reply, err := h.app.Chat.SubmitText(r.Context(), req.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty message"})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Message: chat.FailureText(err)})
	default:
		writeJSON(w, http.StatusOK, messageResponse{
			Answer:   reply.Answer,
			Sources:  reply.Sources,
			Schedule: h.app.Schedule.Snapshot(),
		})
	}
}

func (h *handlers) voiceStart(w http.ResponseWriter, r *http.Request) {
	err := h.app.Voice.Start(r.Context())
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Message: session.PermissionDeniedMessage})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, h.app.Voice.Status())
	}
}

func (h *handlers) voiceStop(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Voice.Stop(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.app.Voice.Status())
}

func (h *handlers) voiceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Voice.Status())
}

func (h *handlers) enableAudio(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Voice.EnableAudio(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.app.Voice.Status())
}

func (h *handlers) scheduleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Schedule.Snapshot())
}

func (h *handlers) availableTimes(w http.ResponseWriter, r *http.Request) {
	times, err := h.app.Schedule.AvailableTimes(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"available_times": times})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" || req.Email == "" || req.DateTime == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name, email and datetime are required"})
		return
	}
	conf, err := h.app.Schedule.Book(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
