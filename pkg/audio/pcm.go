// Package audio provides the PCM plumbing shared by the Parley pipeline:
// sample-format conversion, decimation, WAV encoding and probing, the
// incremental WebM/Opus stream decoder, and the voice segmenter.
//
// All PCM inside the pipeline is 16 kHz mono float32 in [-1, 1]; the helpers
// here convert to and from the little-endian int16 representation used at the
// transport and model boundaries.
package audio

import (
	"encoding/binary"
	"math"
)

// PipelineRate is the sample rate every pipeline stage operates at.
const PipelineRate = 16000

// Float32ToPCM16 converts float32 samples in [-1, 1] to little-endian int16
// PCM bytes. Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float32 samples
// normalised to [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// DownmixMono averages interleaved multi-channel float32 frames into mono.
// If channels is 1 the input is returned unchanged.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// DecimateBy3 downsamples 48 kHz mono PCM to 16 kHz by keeping every third
// sample. No anti-alias filter is applied; downstream ASR consumes 16 kHz
// input and tolerates the aliasing, matching the reference client chain.
func DecimateBy3(samples []float32) []float32 {
	out := make([]float32, 0, len(samples)/3+1)
	for i := 0; i < len(samples); i += 3 {
		out = append(out, samples[i])
	}
	return out
}

// RMS returns the root-mean-square level of the samples. Empty input yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
