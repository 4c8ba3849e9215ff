// Package pcm converts audio between the float32 sample domain used by the
// capture and playback graph and the 16-bit PCM byte frames used on the wire.
package pcm

import (
	"encoding/binary"
	"math"
)

// EncodeFloatToPCM16 converts float samples to little-endian signed 16-bit
// PCM. Samples are clamped to [-1, 1] before scaling.
func EncodeFloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16ToFloat converts PCM bytes to float samples in [-1, 1].
// bitDepth 8 is read as unsigned with a 128 offset; any other value is read as
// signed 16-bit little endian. A trailing partial sample is dropped.
func DecodePCM16ToFloat(data []byte, bitDepth int) []float32 {
	if bitDepth == 8 {
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = clamp(float32((int(b)-128)*256) / 32768)
		}
		return out
	}

	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = clamp(float32(v) / 32768)
	}
	return out
}

// Deinterleave splits interleaved samples into one slice per channel.
// A trailing partial frame is dropped.
func Deinterleave(samples []float32, channels int) [][]float32 {
	if channels <= 1 {
		return [][]float32{samples}
	}
	frames := len(samples) / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}

// Interleave is the inverse of Deinterleave. Channels are truncated to the
// shortest one.
func Interleave(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) < frames {
			frames = len(ch)
		}
	}
	out := make([]float32, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(clamp(s)) * 32768)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

func clamp(s float32) float32 {
	if s != s {
		return 0
	}
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
