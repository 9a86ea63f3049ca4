// Package audio holds the device side of the voice loop: PCM frames, the
// capture bus with its level meter, command-backed capture and playback,
// the autoplay gate and WAV encoding.
package audio

import (
	"encoding/binary"
	"time"
)

// MaxPeak is the top of the level scale used by the silence detector.
const MaxPeak = 128

// Frame is a chunk of mono PCM16 audio.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Bytes returns the samples as little-endian PCM16.
func (f Frame) Bytes() []byte {
	buf := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// FrameFromBytes decodes little-endian PCM16. A trailing odd byte is ignored.
func FrameFromBytes(data []byte, sampleRate int) Frame {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return Frame{Samples: samples, SampleRate: sampleRate}
}

// Peak returns the largest sample magnitude on a 0..128 scale, the same
// scale as a byte time-domain analyser centred on 128.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	peak >>= 8
	if peak > MaxPeak {
		peak = MaxPeak
	}
	return peak
}

// SamplesPerFrame returns how many samples a frame of the given length holds.
func SamplesPerFrame(sampleRate int, size time.Duration) int {
	n := int(int64(sampleRate) * int64(size) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n
}
