// Command audioclient sends a recorded WAV file through the batch voice
// path: the backend transcribes it, answers, and returns speech.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"voice-support-client/internal/gateway"
	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/question-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	apiURL := flag.String("api", "http://127.0.0.1:8000", "Backend base URL")
	stateFile := flag.String("state", "", "Optional JSON file with the scheduling state to send")
	outFile := flag.String("out", "answer.mp3", "Where to write the spoken answer")
	timeout := flag.Duration("timeout", 60*time.Second, "Request timeout")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	logging.Init(cfg)

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read audio file")
	}
	sampleRate, err := checkWAV(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid WAV file")
	}
	log.Info().Int("bytes", len(data)).Int("sampleRate", sampleRate).Msg("Loaded recording")

	var state *models.ScheduleState
	if *stateFile != "" {
		raw, err := os.ReadFile(*stateFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read state file")
		}
		state = &models.ScheduleState{}
		if err := json.Unmarshal(raw, state); err != nil {
			log.Fatal().Err(err).Msg("Failed to parse state file")
		}
	}

	client := gateway.New(gateway.Config{BaseURL: *apiURL, Timeout: *timeout})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	reply, err := client.VoiceAsk(ctx, models.AudioClip{Data: data, Encoding: "audio/wav", SampleRate: sampleRate}, state)
	if err != nil {
		log.Fatal().Err(err).Msg("Voice request failed")
	}

	log.Info().
		Str("transcript", reply.Transcript).
		Str("answer", reply.Answer).
		Strs("sources", reply.Sources).
		Str("schedule", reply.ScheduleState.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Voice reply")

	if len(reply.Audio) == 0 {
		log.Warn().Msg("Reply carried no audio")
		return
	}
	if err := os.WriteFile(*outFile, reply.Audio, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write audio")
	}
	log.Info().Str("file", *outFile).Int("bytes", len(reply.Audio)).Msg("Saved spoken answer")
}

// checkWAV validates a PCM WAV header and returns its sample rate.
func checkWAV(data []byte) (int, error) {
	if len(data) < wavHeaderSize {
		return 0, io.ErrUnexpectedEOF
	}
	header := data[:wavHeaderSize]
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errNotWAV
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 || bitsPerSample != 16 {
		return 0, errNotPCM16
	}
	if numChannels != 1 {
		log.Warn().Uint16("channels", numChannels).Msg("Expected mono audio")
	}
	return int(sampleRate), nil
}
