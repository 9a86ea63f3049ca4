package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	grpcapi "voice-support-client/internal/api/grpc"
	"voice-support-client/internal/app"
	"voice-support-client/internal/audio"
	"voice-support-client/internal/config"
	"voice-support-client/internal/events"
	"voice-support-client/internal/gateway"
	controlhttp "voice-support-client/internal/http"
	"voice-support-client/internal/observability"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
	"voice-support-client/internal/service/chat"
	"voice-support-client/internal/service/conversation"
	"voice-support-client/internal/service/playback"
	"voice-support-client/internal/service/schedule"
	"voice-support-client/internal/service/session"
	"voice-support-client/internal/service/silence"
	"voice-support-client/internal/service/stt"
	"voice-support-client/internal/service/stt/google"
	"voice-support-client/internal/service/stt/mock"
)

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(gateway.Config{BaseURL: cfg.Backend.BaseURL, Timeout: cfg.Backend.Timeout})

	// Kafka publisher for conversation and session events
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicMessages: cfg.Kafka.TopicMessages,
		TopicSession:  cfg.Kafka.TopicSession,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()
	go publisher.Run(ctx)

	// Conversation, scheduling and the shared turn logic
	convo := conversation.NewLog()
	store := schedule.NewStore(gw)
	chatSvc := chat.New(gw, store, convo)
	convo.Subscribe(publisher.EnqueueMessage)

	// Audio devices
	source, sink := newAudio(cfg)
	bus := audio.NewBus(source)
	gated := audio.NewGatedSink(sink, cfg.Audio.RequireGesture, cfg.STT.SampleRateHz)
	player := playback.New(gated, gw)

	// Transcription
	factory, closeFactory := newEngineFactory(cfg)
	defer closeFactory()
	adapter := stt.NewAdapter(factory, newUploader(cfg, gw), bus, cfg.STT.SampleRateHz)

	voice := session.New(session.Config{
		RestartDelay:        cfg.Voice.RestartDelay,
		InactivityTimeout:   cfg.Voice.InactivityTimeout,
		MaxTransientRetries: cfg.Voice.MaxTransientRetries,
		BargeIn:             cfg.Voice.BargeIn,
	}, session.Deps{
		Capture:     bus,
		Transcriber: adapter,
		Player:      player,
		Chat:        chatSvc,
		Schedule:    store,
		Detector: silence.NewDetector(silence.Config{
			VoiceThreshold:  cfg.Voice.VoiceThreshold,
			SilenceDelay:    cfg.Voice.SilenceDelay,
			MinSpeakingTime: cfg.Voice.MinSpeakingTime,
			SampleInterval:  cfg.Voice.SampleInterval,
		}),
	})
	player.OnAutoplayBlocked(voice.NotifyAutoplayBlocked)
	bus.OnLost(voice.NotifyCaptureLost)
	voice.OnEvent(publisher.EnqueueSession)
	go voice.Run(ctx)

	application := app.New(cfg, convo, store, chatSvc, voice)

	hub := controlhttp.NewHub()
	hub.Follow(application)
	go hub.Run(ctx)

	// gRPC health bound to backend reachability
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	grpcServer := grpc.NewServer(grpcapi.ServerOptions(metrics.DefaultMetrics)...)
	reporter := grpcapi.Register(grpcServer, gw, cfg.Backend.HealthInterval, application.SetBackendReachable)
	go reporter.Run(ctx)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health service started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("grpc serve failed")
		}
	}()

	metricsServer := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)
	metricsServer.Start()

	controlServer := &http.Server{
		Addr:              cfg.Service.ControlAddr,
		Handler:           controlhttp.NewRouter(application, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Service.ControlAddr).Msg("Control API started")
		if err := controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("control API failed")
		}
	}()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	application.Shutdown(shutdownCtx)
	reporter.Shutdown()
	_ = controlServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	cancel()
}

func newAudio(cfg *config.Config) (audio.Source, audio.Sink) {
	if cfg.Audio.Backend == "mock" {
		log.Info().Msg("Using scripted microphone and silent speaker")
		return audio.NewMockSource(audio.DefaultScript, true, cfg.STT.SampleRateHz, cfg.Audio.FrameSize),
			audio.NewMockSink(2 * time.Second)
	}
	return audio.NewCommandSource(cfg.Audio.CaptureCommand, cfg.STT.SampleRateHz, cfg.Audio.FrameSize),
		audio.NewCommandSink(cfg.Audio.PlaybackCommand)
}

// newEngineFactory selects the continuous recognition engine. A nil factory
// means every session uses batch capture.
func newEngineFactory(cfg *config.Config) (stt.EngineFactory, func()) {
	switch cfg.STT.Provider {
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.STT.LanguageCode
		gcfg.SampleRateHz = cfg.STT.SampleRateHz
		f := google.NewFactory(gcfg)
		return f, func() { _ = f.Close() }
	case "mock":
		return mock.NewFactory(), func() {}
	default:
		log.Info().Str("provider", cfg.STT.Provider).Msg("No continuous recognition, using batch capture")
		return nil, func() {}
	}
}

func newUploader(cfg *config.Config, gw *gateway.Client) stt.Uploader {
	if cfg.STT.BatchEndpoint == "stt" {
		return stt.NewTranscribeUploader(gw)
	}
	return stt.NewVoiceAskUploader(gw)
}
