// Package gateway is the HTTP client for the knowledge-answering backend:
// question answering, combined voice answering, speech endpoints and
// support-call scheduling.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
	"voice-support-client/internal/schema"
)

// Endpoint paths.
const (
	PathAsk            = "/ask"
	PathVoiceAsk       = "/voice-ask"
	PathSTT            = "/stt"
	PathTTS            = "/tts"
	PathAvailableTimes = "/available-times"
	PathSchedule       = "/schedule-support-call"
	PathHealth         = "/health"
)

// maxErrorBody bounds how much of an error body is kept in APIError.
const maxErrorBody = 512

// Config configures the gateway client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL   string
	http      *http.Client
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates a gateway client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      newHTTPClient(timeout),
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("gateway"),
	}
}

// NewWithHTTPClient creates a gateway client using the given HTTP client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	c := New(Config{BaseURL: baseURL})
	c.http = hc
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

type askRequest struct {
	Question      string                `json:"question"`
	ScheduleState *models.ScheduleState `json:"schedule_state,omitempty"`
}

type answerResponse struct {
	Transcript      string          `json:"transcript"`
	Answer          string          `json:"answer"`
	Sources         []string        `json:"sources"`
	ScheduleState   json.RawMessage `json:"schedule_state"`
	TriggerSchedule bool            `json:"trigger_schedule"`
	AudioData       string          `json:"audio_data"`
	AudioFormat     string          `json:"audio_format"`
	Violations      []string        `json:"violations"`
	Error           string          `json:"error"`
}

// Ask sends a question, with the scheduling state current at issue time.
func (c *Client) Ask(ctx context.Context, question string, state *models.ScheduleState) (*models.Reply, error) {
	body, err := json.Marshal(askRequest{Question: question, ScheduleState: state})
	if err != nil {
		return nil, fmt.Errorf("encode ask request: %w", err)
	}

	var resp answerResponse
	start := time.Now()
	err = c.doJSON(ctx, http.MethodPost, PathAsk, "application/json", bytes.NewReader(body), &resp)
	if err == nil && resp.Error != "" {
		err = &ReplyError{Endpoint: PathAsk, Message: resp.Error, Answer: resp.Answer}
	}
	var reply *models.Reply
	if err == nil {
		reply, err = c.toReply(PathAsk, &resp, false)
	}
	c.record(PathAsk, err, start)
	return reply, err
}

// VoiceAsk uploads a captured clip and returns transcript, answer and speech
// in one round trip.
func (c *Client) VoiceAsk(ctx context.Context, clip models.AudioClip, state *models.ScheduleState) (*models.Reply, error) {
	fields := map[string]string{}
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("encode schedule state: %w", err)
		}
		fields["schedule_state"] = string(raw)
	}
	body, contentType, err := multipartClip(clip, fields)
	if err != nil {
		return nil, err
	}

	var resp answerResponse
	start := time.Now()
	err = c.doJSON(ctx, http.MethodPost, PathVoiceAsk, contentType, body, &resp)
	if err == nil && resp.Error != "" {
		err = &ReplyError{Endpoint: PathVoiceAsk, Message: resp.Error, Answer: resp.Answer, Transcript: resp.Transcript}
	}
	var reply *models.Reply
	if err == nil {
		reply, err = c.toReply(PathVoiceAsk, &resp, true)
	}
	c.record(PathVoiceAsk, err, start)
	return reply, err
}

// Transcribe uploads a clip to /stt and returns the transcript only.
func (c *Client) Transcribe(ctx context.Context, clip models.AudioClip) (string, error) {
	body, contentType, err := multipartClip(clip, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Transcript string `json:"transcript"`
		Error      string `json:"error"`
		Details    string `json:"details"`
	}
	start := time.Now()
	err = c.doJSON(ctx, http.MethodPost, PathSTT, contentType, body, &resp)
	if err == nil && resp.Error != "" {
		err = &ReplyError{Endpoint: PathSTT, Message: resp.Error}
	}
	c.record(PathSTT, err, start)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Transcript), nil
}

// Synthesize requests speech for text and returns mpeg audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	start := time.Now()
	audio, err := c.doAudio(ctx, PathTTS, body)
	c.record(PathTTS, err, start)
	return audio, err
}

// AvailableTimes returns the bookable support call slots as ISO timestamps.
func (c *Client) AvailableTimes(ctx context.Context) ([]string, error) {
	var resp struct {
		AvailableTimes []string `json:"available_times"`
		Error          string   `json:"error"`
	}
	start := time.Now()
	err := c.doJSON(ctx, http.MethodGet, PathAvailableTimes, "", nil, &resp)
	if err == nil && resp.Error != "" {
		err = &ReplyError{Endpoint: PathAvailableTimes, Message: resp.Error}
	}
	c.record(PathAvailableTimes, err, start)
	if err != nil {
		return nil, err
	}
	return resp.AvailableTimes, nil
}

// ScheduleSupportCall books a support call.
func (c *Client) ScheduleSupportCall(ctx context.Context, req models.BookingRequest) (*models.BookingConfirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}

	var resp struct {
		models.BookingConfirmation
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	start := time.Now()
	err = c.doJSON(ctx, http.MethodPost, PathSchedule, "application/json", bytes.NewReader(body), &resp)
	if err == nil && resp.Error != "" {
		err = &ReplyError{Endpoint: PathSchedule, Message: resp.Error}
	}
	c.record(PathSchedule, err, start)
	if err != nil {
		return nil, err
	}
	return &resp.BookingConfirmation, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, PathHealth, "", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "" && resp.Status != "healthy" {
		return fmt.Errorf("gateway: backend reports status %q", resp.Status)
	}
	return nil
}

func (c *Client) toReply(endpoint string, resp *answerResponse, voice bool) (*models.Reply, error) {
	reply := &models.Reply{
		Transcript:      strings.TrimSpace(resp.Transcript),
		Answer:          resp.Answer,
		Sources:         nonEmpty(resp.Sources),
		TriggerSchedule: resp.TriggerSchedule,
		AudioFormat:     resp.AudioFormat,
		Violations:      resp.Violations,
	}

	if len(resp.ScheduleState) > 0 {
		reply.ScheduleUpdate = true
		if string(resp.ScheduleState) != "null" {
			var st models.ScheduleState
			if err := json.Unmarshal(resp.ScheduleState, &st); err != nil {
				return nil, fmt.Errorf("%w: %s schedule_state: %v", ErrMalformedResponse, endpoint, err)
			}
			reply.ScheduleState = &st
		}
	}

	if resp.AudioData != "" {
		audio, err := base64.StdEncoding.DecodeString(resp.AudioData)
		if err != nil {
			return nil, fmt.Errorf("%w: %s audio_data: %v", ErrMalformedResponse, endpoint, err)
		}
		reply.Audio = audio
	}

	if err := c.validator.ValidateReply(reply, voice); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return reply, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

// doAudio posts JSON and expects an audio body. The backend answers speech
// failures with a JSON error document and a 200 status.
func (c *Client) doAudio(ctx context.Context, path string, body []byte) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
			return nil, &ReplyError{Endpoint: path, Message: e.Error}
		}
		return nil, fmt.Errorf("%w: %s: expected audio, got JSON", ErrMalformedResponse, path)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty audio", ErrMalformedResponse, path)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (c *Client) record(endpoint string, err error, start time.Time) {
	kind := errorKind(err)
	c.metrics.RecordBackendCall(endpoint, kind, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("kind", kind).
			Dur("latency", time.Since(start)).
			Msg("Backend call failed")
		return
	}
	c.logger.Debug().
		Str("endpoint", endpoint).
		Dur("latency", time.Since(start)).
		Msg("Backend call completed")
}

func multipartClip(clip models.AudioClip, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, clip.Filename()))
	encoding := clip.Encoding
	if encoding == "" {
		encoding = "application/octet-stream"
	}
	h.Set("Content-Type", encoding)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
