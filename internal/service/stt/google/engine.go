// Package google provides a continuous recognition engine backed by
// Google Cloud Speech-to-Text streaming recognition in single-utterance mode.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"voice-support-client/internal/audio"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/service/stt"
)

// Config holds the recognition settings.
type Config struct {
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Model         string
	// SpeechStartTimeout ends the stream with no-speech if the user never
	// starts talking.
	SpeechStartTimeout time.Duration
	// SpeechEndTimeout is the trailing silence that ends the utterance.
	SpeechEndTimeout time.Duration
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:       "en-US",
		SampleRateHz:       16000,
		AudioEncoding:      "LINEAR16",
		SpeechStartTimeout: 8 * time.Second,
		SpeechEndTimeout:   1500 * time.Millisecond,
	}
}

// parseAudioEncoding converts a config string to a speechpb encoding.
// Unknown values fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	sc := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
			SampleRateHertz:            int32(cfg.SampleRateHz),
			LanguageCode:               cfg.LanguageCode,
			Model:                      cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		SingleUtterance:           true,
		InterimResults:            false,
		EnableVoiceActivityEvents: true,
	}
	if cfg.SpeechStartTimeout > 0 || cfg.SpeechEndTimeout > 0 {
		vat := &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{}
		if cfg.SpeechStartTimeout > 0 {
			vat.SpeechStartTimeout = durationpb.New(cfg.SpeechStartTimeout)
		}
		if cfg.SpeechEndTimeout > 0 {
			vat.SpeechEndTimeout = durationpb.New(cfg.SpeechEndTimeout)
		}
		sc.VoiceActivityTimeout = vat
	}
	return sc
}

// Factory creates engines sharing one Speech client.
type Factory struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *speech.Client
}

// NewFactory creates a factory.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg, logger: logging.WithComponent("stt-google")}
}

// Name implements stt.EngineFactory.
func (f *Factory) Name() string { return "google" }

// Supported reports whether application default credentials are
// configured.
func (f *Factory) Supported() bool {
	path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// New implements stt.EngineFactory. The client is created on first use.
func (f *Factory) New(ctx context.Context) (stt.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		c, err := speech.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		f.client = c
		f.logger.Info().Str("language", f.cfg.LanguageCode).Msg("Speech client created")
	}
	return &Engine{client: f.client, cfg: f.cfg, logger: f.logger, stop: make(chan struct{})}, nil
}

// Close releases the shared client.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}

// Engine is one streaming recognition call.
type Engine struct {
	client *speech.Client
	cfg    Config
	logger zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	cancel  context.CancelFunc
	settled bool
}

// Start opens the stream, sends the config and begins streaming frames.
func (e *Engine) Start(ctx context.Context, frames <-chan audio.Frame, cb stt.EngineCallback) error {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := e.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open recognition stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(e.cfg),
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("send streaming config: %w", err)
	}

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go e.sendLoop(stream, frames)
	go e.recvLoop(stream, cb)
	return nil
}

func (e *Engine) sendLoop(stream speechpb.Speech_StreamingRecognizeClient, frames <-chan audio.Frame) {
	defer stream.CloseSend()
	for {
		select {
		case <-e.stop:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: f.Bytes(),
				},
			})
			if err != nil {
				return
			}
		}
	}
}

func (e *Engine) recvLoop(stream speechpb.Speech_StreamingRecognizeClient, cb stt.EngineCallback) {
	defer e.finish()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if e.settle() {
				cb.OnEnd()
			}
			return
		}
		if err != nil {
			if e.settle() {
				cb.OnError(mapError(err))
			}
			return
		}
		if resp.Error != nil && resp.Error.Code != 0 {
			if e.settle() {
				cb.OnError(mapError(status.ErrorProto(resp.Error)))
			}
			return
		}

		switch resp.SpeechEventType {
		case speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE:
			e.Stop()
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_TIMEOUT:
			if e.settle() {
				cb.OnError(stt.NewError(stt.CodeNoSpeech, errors.New("speech activity timeout")))
			}
			return
		}

		for _, r := range resp.Results {
			if !r.IsFinal || len(r.Alternatives) == 0 {
				continue
			}
			if e.settle() {
				e.logger.Debug().
					Float32("confidence", r.Alternatives[0].Confidence).
					Msg("Final transcript received")
				cb.OnResult(r.Alternatives[0].Transcript)
			}
			return
		}
	}
}

// settle marks the instance as reported. It returns false if a result,
// error or abort already ended it.
func (e *Engine) settle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return false
	}
	e.settled = true
	return true
}

func (e *Engine) finish() {
	e.Stop()
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop half-closes the stream; the final result still arrives.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Abort cancels the stream without reporting.
func (e *Engine) Abort() {
	e.mu.Lock()
	e.settled = true
	cancel := e.cancel
	e.mu.Unlock()
	e.Stop()
	if cancel != nil {
		cancel()
	}
}

// mapError classifies a gRPC failure.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return stt.NewError(stt.CodeAborted, err)
	case codes.DeadlineExceeded, codes.OutOfRange:
		return stt.NewError(stt.CodeNoSpeech, err)
	default:
		return stt.NewError(stt.CodeOther, err)
	}
}
