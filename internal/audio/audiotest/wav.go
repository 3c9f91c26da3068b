// Package audiotest builds in-memory recordings for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// WAV encodes mono 16-bit PCM samples as a RIFF/WAVE file.
func WAV(rate int, samples []int16) []byte {
	var b bytes.Buffer
	dataLen := uint32(len(samples) * 2)
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	_ = binary.Write(&b, binary.LittleEndian, samples)
	return b.Bytes()
}

// Tone returns durationMs of a sine at freq Hz whose amplitude (0..1) is
// given per 100ms block by levels, cycling when levels is shorter.
func Tone(rate, durationMs int, freq float64, levels ...float64) []int16 {
	if len(levels) == 0 {
		levels = []float64{0.5}
	}
	n := rate * durationMs / 1000
	block := rate / 10
	if block < 1 {
		block = 1
	}
	out := make([]int16, n)
	for i := range out {
		amp := levels[(i/block)%len(levels)]
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
