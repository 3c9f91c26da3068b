// Package audio sniffs, decodes and measures uploaded recordings.
//
// WAV is decoded with beep's wav decoder and MP3 with go-mp3. Decoding yields
// the exact decodable duration and an RMS loudness envelope that the feature
// extractor turns into volume variability.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gopxl/beep/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"

	// DefaultWindowMs is the envelope window used when none is configured.
	DefaultWindowMs = 50

	mp3SamplesPerFrame = 1152
)

// Profile is the result of a full decode.
type Profile struct {
	Info domain.AudioInfo
	// Envelope holds one RMS value per window, full scale 0..1.
	Envelope []float64
}

// Sniff identifies the container from its leading bytes. Anything other than
// RIFF/WAVE or MPEG audio (bare frame sync or an ID3 tag) is unsupported.
func Sniff(data []byte) (string, error) {
	switch {
	case len(data) == 0:
		return "", fmt.Errorf("audio: empty recording: %w", domain.ErrUnsupportedFormat)
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, nil
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0:
		// Layer bits 00 are reserved in MPEG audio; ADTS AAC uses them.
		return FormatMP3, nil
	}
	return "", fmt.Errorf("audio: unrecognized container: %w", domain.ErrUnsupportedFormat)
}

// Decode sniffs and fully decodes data. Unsupported containers fail with
// domain.ErrUnsupportedFormat; corrupt or truncated streams with
// domain.ErrDecode. A valid container with no samples decodes to a zero
// duration profile.
func Decode(data []byte, windowMs int) (Profile, error) {
	format, err := Sniff(data)
	if err != nil {
		return Profile{}, err
	}
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}
	switch format {
	case FormatWAV:
		return decodeWAV(data, windowMs)
	default:
		return decodeMP3(data, windowMs)
	}
}

func decodeWAV(data []byte, windowMs int) (Profile, error) {
	stream, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return Profile{}, fmt.Errorf("audio: wav header: %w: %w", domain.ErrDecode, err)
	}
	defer stream.Close()

	rate := int(format.SampleRate)
	if rate <= 0 {
		return Profile{}, fmt.Errorf("audio: wav sample rate %d: %w", rate, domain.ErrDecode)
	}

	env := newEnvelope(rate, windowMs)
	buf := make([][2]float64, 4096)
	var frames int64
	for {
		n, ok := stream.Stream(buf)
		for i := 0; i < n; i++ {
			env.add((buf[i][0] + buf[i][1]) / 2)
		}
		frames += int64(n)
		if !ok || n == 0 {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return Profile{}, fmt.Errorf("audio: wav samples: %w: %w", domain.ErrDecode, err)
	}
	if declared := int64(stream.Len()); frames < declared {
		return Profile{}, fmt.Errorf("audio: wav truncated: %d of %d frames: %w", frames, declared, domain.ErrDecode)
	}

	return Profile{
		Info: domain.AudioInfo{
			Format:     FormatWAV,
			SampleRate: rate,
			Channels:   format.NumChannels,
			DurationMs: frames * 1000 / int64(rate),
			FrameMs:    ceilDiv(1000, int64(rate)),
		},
		Envelope: env.finish(),
	}, nil
}

func decodeMP3(data []byte, windowMs int) (Profile, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Profile{}, fmt.Errorf("audio: mp3 header: %w: %w", domain.ErrDecode, err)
	}
	rate := decoder.SampleRate()
	if rate <= 0 {
		return Profile{}, fmt.Errorf("audio: mp3 sample rate %d: %w", rate, domain.ErrDecode)
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	env := newEnvelope(rate, windowMs)
	buf := make([]byte, 4096)
	var frames int64
	for {
		n, err := decoder.Read(buf)
		for i := 0; i+3 < n; i += 4 {
			left := float64(int16(uint16(buf[i]) | uint16(buf[i+1])<<8))
			right := float64(int16(uint16(buf[i+2]) | uint16(buf[i+3])<<8))
			env.add((left + right) / 2 / 32768.0)
			frames++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Profile{}, fmt.Errorf("audio: mp3 samples: %w: %w", domain.ErrDecode, err)
		}
	}
	// Length is the PCM byte count implied by the frame headers.
	if declared := decoder.Length(); declared > 0 && frames*4 < declared {
		return Profile{}, fmt.Errorf("audio: mp3 truncated: %d of %d bytes: %w", frames*4, declared, domain.ErrDecode)
	}

	return Profile{
		Info: domain.AudioInfo{
			Format:     FormatMP3,
			SampleRate: rate,
			Channels:   2,
			DurationMs: frames * 1000 / int64(rate),
			FrameMs:    ceilDiv(mp3SamplesPerFrame*1000, int64(rate)),
		},
		Envelope: env.finish(),
	}, nil
}

// VolumeVariability is the coefficient of variation of the voiced windows of
// an envelope. Windows at or below floor count as silence. It reports false
// when fewer than two windows are voiced.
func VolumeVariability(envelope []float64, floor float64) (float64, bool) {
	var sum float64
	var n int
	for _, v := range envelope {
		if v > floor {
			sum += v
			n++
		}
	}
	if n < 2 {
		return 0, false
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0, false
	}
	var ss float64
	for _, v := range envelope {
		if v > floor {
			d := v - mean
			ss += d * d
		}
	}
	return math.Sqrt(ss/float64(n)) / mean, true
}

type envelope struct {
	size  int
	count int
	sumSq float64
	out   []float64
}

func newEnvelope(rate, windowMs int) *envelope {
	size := rate * windowMs / 1000
	if size < 1 {
		size = 1
	}
	return &envelope{size: size}
}

func (e *envelope) add(sample float64) {
	e.sumSq += sample * sample
	e.count++
	if e.count == e.size {
		e.flush()
	}
}

func (e *envelope) flush() {
	if e.count == 0 {
		return
	}
	rms := math.Sqrt(e.sumSq / float64(e.count))
	if rms > 1 {
		rms = 1
	}
	e.out = append(e.out, rms)
	e.count = 0
	e.sumSq = 0
}

func (e *envelope) finish() []float64 {
	e.flush()
	return e.out
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
