package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, loaded from the environment.
type Config struct {
	Service       ServiceConfig
	Backend       BackendConfig
	Voice         VoiceConfig
	STT           STTConfig
	Audio         AudioConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener addresses and the service identity.
type ServiceConfig struct {
	Principal   string
	ControlAddr string
	GRPCPort    string
}

// BackendConfig points at the knowledge-answering backend.
type BackendConfig struct {
	BaseURL        string
	Timeout        time.Duration
	HealthInterval time.Duration
}

// VoiceConfig tunes the silence detector and the voice loop.
type VoiceConfig struct {
	VoiceThreshold      int
	SilenceDelay        time.Duration
	MinSpeakingTime     time.Duration
	SampleInterval      time.Duration
	RestartDelay        time.Duration
	InactivityTimeout   time.Duration
	MaxTransientRetries int
	BargeIn             bool
	Greeting            string
}

// STTConfig selects and configures transcription.
type STTConfig struct {
	// Provider is the continuous recognition engine: google, mock or none.
	Provider     string
	LanguageCode string
	SampleRateHz int
	// BatchEndpoint is voice-ask (transcribe+answer+speech in one call) or stt.
	BatchEndpoint string
}

// AudioConfig describes the capture and playback devices.
type AudioConfig struct {
	// Backend is command (external recorder and player) or mock.
	Backend         string
	CaptureCommand  []string
	PlaybackCommand []string
	FrameSize       time.Duration
	RequireGesture  bool
}

// KafkaConfig holds the conversation event publisher settings.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicMessages string
	TopicSession  string
	Principal     string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from environment variables, applying defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-support-client")
	sampleRate := envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000)
	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			ControlAddr: envOrDefault("CONTROL_ADDR", ":8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
		},
		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(envOrDefault("API_URL", "http://127.0.0.1:8000"), "/"),
			Timeout:        envOrDefaultDuration("BACKEND_TIMEOUT", 60*time.Second),
			HealthInterval: envOrDefaultDuration("BACKEND_HEALTH_INTERVAL", 15*time.Second),
		},
		Voice: VoiceConfig{
			VoiceThreshold:      envOrDefaultInt("VOICE_THRESHOLD", 10),
			SilenceDelay:        envOrDefaultDuration("VOICE_SILENCE_DELAY", 1500*time.Millisecond),
			MinSpeakingTime:     envOrDefaultDuration("VOICE_MIN_SPEAKING_TIME", 2000*time.Millisecond),
			SampleInterval:      envOrDefaultDuration("VOICE_SAMPLE_INTERVAL", 16*time.Millisecond),
			RestartDelay:        envOrDefaultDuration("VOICE_RESTART_DELAY", 200*time.Millisecond),
			InactivityTimeout:   envOrDefaultDuration("VOICE_INACTIVITY_TIMEOUT", 2*time.Minute),
			MaxTransientRetries: envOrDefaultInt("VOICE_MAX_TRANSIENT_RETRIES", 5),
			BargeIn:             envOrDefaultBool("VOICE_BARGE_IN", true),
			Greeting:            envOrDefault("CHAT_GREETING", "Hi! Ask me anything about Aven."),
		},
		STT: STTConfig{
			Provider:      strings.ToLower(envOrDefault("STT_PROVIDER", "none")),
			LanguageCode:  envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:  sampleRate,
			BatchEndpoint: strings.ToLower(envOrDefault("STT_BATCH_ENDPOINT", "voice-ask")),
		},
		Audio: AudioConfig{
			Backend: strings.ToLower(envOrDefault("AUDIO_BACKEND", "command")),
			CaptureCommand: envOrDefaultList("AUDIO_CAPTURE_COMMAND", []string{
				"arecord", "-q", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(sampleRate), "-t", "raw",
			}),
			PlaybackCommand: envOrDefaultList("AUDIO_PLAYBACK_COMMAND", []string{
				"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-i", "pipe:0",
			}),
			FrameSize:      envOrDefaultDuration("AUDIO_FRAME_SIZE", 20*time.Millisecond),
			RequireGesture: envOrDefaultBool("AUDIO_REQUIRE_GESTURE", false),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicMessages: envOrDefault("KAFKA_TOPIC_MESSAGES", "support.conversation.message"),
			TopicSession:  envOrDefault("KAFKA_TOPIC_SESSION", "support.voice.session"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:   strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits on commas for broker lists and on whitespace for commands.
func envOrDefaultList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var parts []string
	if strings.Contains(v, ",") {
		parts = strings.Split(v, ",")
	} else {
		parts = strings.Fields(v)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
