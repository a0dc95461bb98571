package audio

import (
	"bytes"
	"fmt"
	"log/slog"

	"layeh.com/gopus"
)

// opusRate is the decode rate of the Opus stream inside the WebM container.
// Browsers always encode microphone audio at 48 kHz; the decoder decimates by
// 3 down to [PipelineRate]. Other container rates are rejected.
const opusRate = 48000

// maxOpusFrame is the largest per-channel sample count a single Opus packet
// can carry (120 ms at 48 kHz).
const maxOpusFrame = 5760

// ebmlMagic marks the start of a WebM container. The client restarts its
// encoder on a fixed cadence; spotting this magic mid-stream is how the
// decoder detects the new container and resynchronises.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// StreamDecoder incrementally decodes a growing WebM/Opus byte stream into
// 16 kHz mono float32 PCM. Ingest returns only samples that have not been
// returned before; feeding the stream chunk-by-chunk yields exactly the same
// PCM as decoding the final concatenation in one call.
//
// A StreamDecoder is owned by a single connection's read goroutine and is not
// safe for concurrent use.
type StreamDecoder struct {
	demux   webmDemuxer
	opus    *gopus.Decoder
	phase   int  // decimation phase carried across packet seams
	started bool // a container header has been seen
	emitted int64
	log     *slog.Logger
}

// NewStreamDecoder creates a decoder ready for the first container header.
func NewStreamDecoder(log *slog.Logger) *StreamDecoder {
	if log == nil {
		log = slog.Default()
	}
	return &StreamDecoder{log: log}
}

// Ingest appends encoded bytes and returns the newly decoded PCM samples at
// 16 kHz mono. A partial container header yields an empty slice and no error.
// Malformed payload mid-stream yields an empty slice and a logged warning;
// the decoder recovers at the next header refresh.
func (d *StreamDecoder) Ingest(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if !d.started {
		// Waiting for the first container header.
		idx := bytes.Index(data, ebmlMagic)
		if idx < 0 {
			return nil, nil
		}
		data = data[idx:]
		d.started = true
	} else if bytes.HasPrefix(data, ebmlMagic) {
		// Header refresh: the client restarted its encoder and this chunk
		// begins a new container. The magic is checked only at the chunk
		// boundary so compressed payload bytes cannot fake a restart.
		d.log.Debug("audio: container restart detected",
			"emitted_samples", d.emitted)
		d.reset()
		d.started = true
	}

	packets, err := d.demux.Demux(data)
	if err != nil {
		d.log.Warn("audio: webm demux error", "err", err)
		// Best-effort resync: drop up to the next container header inside the
		// demuxer's buffer, if one has already arrived.
		if idx := bytes.Index(d.demux.buf, ebmlMagic); idx > 0 {
			rest := append([]byte(nil), d.demux.buf[idx:]...)
			d.reset()
			d.started = true
			more, demuxErr := d.demux.Demux(rest)
			if demuxErr == nil {
				packets = append(packets, more...)
			}
		}
	}

	var out []float32
	for _, pkt := range packets {
		pcm, err := d.decodePacket(pkt)
		if err != nil {
			d.log.Warn("audio: opus decode error", "err", err)
			continue
		}
		out = append(out, pcm...)
	}
	d.emitted += int64(len(out))
	return out, nil
}

// Reset discards all buffered state and prepares for a fresh container.
func (d *StreamDecoder) Reset() {
	d.reset()
}

// Emitted returns the total number of 16 kHz samples returned across the life
// of the current container.
func (d *StreamDecoder) Emitted() int64 {
	return d.emitted
}

func (d *StreamDecoder) reset() {
	d.demux.Reset()
	d.opus = nil
	d.phase = 0
	d.started = false
	d.emitted = 0
}

// decodePacket decodes one Opus packet, downmixes to mono, and decimates the
// 48 kHz output to the pipeline rate. The three-sample decimation phase is
// carried across packets so the seams stay aligned.
func (d *StreamDecoder) decodePacket(pkt []byte) ([]float32, error) {
	channels := d.demux.track.channels
	if channels <= 0 {
		channels = 1
	}
	if rate := d.demux.track.sampleRate; rate != 0 && rate != opusRate {
		return nil, fmt.Errorf("audio: unsupported container rate %.0f", rate)
	}

	if d.opus == nil {
		dec, err := gopus.NewDecoder(opusRate, channels)
		if err != nil {
			return nil, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		d.opus = dec
	}

	pcm16, err := d.opus.Decode(pkt, maxOpusFrame, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}

	samples := make([]float32, len(pcm16))
	for i, s := range pcm16 {
		samples[i] = float32(s) / 32768.0
	}
	mono := DownmixMono(samples, channels)

	out := make([]float32, 0, len(mono)/3+1)
	for _, s := range mono {
		if d.phase == 0 {
			out = append(out, s)
		}
		d.phase++
		if d.phase == 3 {
			d.phase = 0
		}
	}
	return out, nil
}
