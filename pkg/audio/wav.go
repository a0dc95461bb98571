package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV serialises float32 PCM samples into a complete RIFF WAV blob
// (PCM16, mono) at the given sample rate. The result is what the wire sends
// as a synthesised-audio binary frame and what the recording dump writes.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	buf := newSeekBuffer()
	enc := wav.NewEncoder(buf, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		data[i] = int(int16(v))
	}

	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePCM16WAV serialises little-endian int16 PCM bytes into a WAV blob.
// Used for the TTS providers that already deliver int16 PCM.
func EncodePCM16WAV(pcm []byte, sampleRate int) ([]byte, error) {
	return EncodeWAV(PCM16ToFloat32(pcm), sampleRate)
}

// WAVDuration reads the header of a WAV blob and returns the audio duration.
// It is used to size the echo-suppression window from the actual synthesised
// audio length.
func WAVDuration(blob []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(blob))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("audio: read wav header: %w", err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return 0, errors.New("audio: wav header incomplete")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("audio: wav duration: %w", err)
	}
	return d, nil
}

// DecodeWAV decodes a WAV blob into mono float32 samples plus the sample rate.
// Multi-channel input is downmixed by averaging.
func DecodeWAV(blob []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(blob))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: not a wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil {
		return nil, 0, errors.New("audio: empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return DownmixMono(samples, channels), int(dec.SampleRate), nil
}

// seekBuffer is an in-memory io.WriteSeeker. The go-audio encoder needs to
// seek back to patch RIFF chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func newSeekBuffer() *seekBuffer {
	return &seekBuffer{}
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("audio: invalid seek whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.data
}
