package audio

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"math"
	"testing"

	"layeh.com/gopus"
)

// ── WebM builder ─────────────────────────────────────────────────────────────
//
// The tests build minimal but structurally valid WebM streams the way a
// browser MediaRecorder does: EBML header, unknown-size Segment, Tracks with
// one Opus audio track, then unknown-size Clusters of SimpleBlocks.

func vint(size int) []byte {
	if size < 0x7F {
		return []byte{0x80 | byte(size)}
	}
	return []byte{0x40 | byte(size>>8), byte(size)}
}

func element(id []byte, payload []byte) []byte {
	out := append([]byte(nil), id...)
	out = append(out, vint(len(payload))...)
	return append(out, payload...)
}

// unknownSize marks a master element (Segment, Cluster) as open-ended.
var unknownSize = []byte{0xFF}

func buildTracks(channels int) []byte {
	num := element([]byte{0xD7}, []byte{0x01})
	codec := element([]byte{0x86}, []byte("A_OPUS"))

	freq := make([]byte, 4)
	binary.BigEndian.PutUint32(freq, math.Float32bits(48000))
	audioEl := element([]byte{0xE1}, append(
		element([]byte{0x9F}, []byte{byte(channels)}),
		element([]byte{0xB5}, freq)...,
	))

	entry := element([]byte{0xAE}, append(append(num, codec...), audioEl...))
	return element([]byte{0x16, 0x54, 0xAE, 0x6B}, entry)
}

func simpleBlock(opusPkt []byte) []byte {
	payload := []byte{0x81, 0x00, 0x00, 0x80} // track 1, timecode 0, keyframe
	payload = append(payload, opusPkt...)
	return element([]byte{0xA3}, payload)
}

// buildWebM encodes frames of 48 kHz mono PCM (960 samples each, 20 ms)
// into a complete single-track WebM/Opus stream.
func buildWebM(t *testing.T, frames [][]int16) []byte {
	t.Helper()

	enc, err := gopus.NewEncoder(48000, 1, gopus.Audio)
	if err != nil {
		t.Fatalf("create opus encoder: %v", err)
	}

	var out []byte
	out = append(out, element([]byte{0x1A, 0x45, 0xDF, 0xA3}, nil)...)
	out = append(out, 0x18, 0x53, 0x80, 0x67)
	out = append(out, unknownSize...)
	out = append(out, buildTracks(1)...)

	cluster := []byte{0x1F, 0x43, 0xB6, 0x75}
	cluster = append(cluster, unknownSize...)
	cluster = append(cluster, element([]byte{0xE7}, []byte{0x00})...)
	out = append(out, cluster...)

	for _, frame := range frames {
		pkt, err := enc.Encode(frame, 960, 4000)
		if err != nil {
			t.Fatalf("opus encode: %v", err)
		}
		out = append(out, simpleBlock(pkt)...)
	}
	return out
}

// toneFrames produces n 20 ms frames of a 440 Hz tone at 48 kHz.
func toneFrames(n int) [][]int16 {
	frames := make([][]int16, n)
	idx := 0
	for i := range frames {
		frame := make([]int16, 960)
		for j := range frame {
			frame[j] = int16(10000 * math.Sin(2*math.Pi*440*float64(idx)/48000))
			idx++
		}
		frames[i] = frame
	}
	return frames
}

// chunkBoundaries splits data into chunks of roughly the given sizes, making
// sure no chunk after the first starts exactly on the EBML magic — a chunk
// boundary there would legitimately read as an encoder restart.
func chunkBoundaries(data []byte, sizes []int) [][]byte {
	var chunks [][]byte
	pos := 0
	for i := 0; pos < len(data); i++ {
		n := sizes[i%len(sizes)]
		end := pos + n
		if end > len(data) {
			end = len(data)
		}
		for end < len(data) && bytes.HasPrefix(data[end:], ebmlMagic) {
			end++
		}
		chunks = append(chunks, data[pos:end])
		pos = end
	}
	return chunks
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestStreamDecoder_IncrementalMatchesOneShot(t *testing.T) {
	stream := buildWebM(t, toneFrames(25))

	oneShot := NewStreamDecoder(discardLogger())
	want, err := oneShot.Ingest(stream)
	if err != nil {
		t.Fatalf("one-shot ingest: %v", err)
	}
	if len(want) == 0 {
		t.Fatal("one-shot decode produced no samples")
	}

	incremental := NewStreamDecoder(discardLogger())
	var got []float32
	for _, chunk := range chunkBoundaries(stream, []int{7, 13, 64, 3, 257}) {
		pcm, err := incremental.Ingest(chunk)
		if err != nil {
			t.Fatalf("incremental ingest: %v", err)
		}
		got = append(got, pcm...)
	}

	if len(got) != len(want) {
		t.Fatalf("incremental samples = %d, one-shot = %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("sample %d differs: %f vs %f", i, got[i], want[i])
		}
	}
	if incremental.Emitted() != int64(len(got)) {
		t.Errorf("emitted = %d, want %d", incremental.Emitted(), len(got))
	}
}

func TestStreamDecoder_HeaderRefreshNoDuplicates(t *testing.T) {
	first := buildWebM(t, toneFrames(10))
	second := buildWebM(t, toneFrames(10))

	// Reference lengths from decoding each container alone.
	ref1, err := NewStreamDecoder(discardLogger()).Ingest(first)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	ref2, err := NewStreamDecoder(discardLogger()).Ingest(second)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}

	dec := NewStreamDecoder(discardLogger())
	var total []float32
	for _, chunk := range chunkBoundaries(first, []int{101}) {
		pcm, _ := dec.Ingest(chunk)
		total = append(total, pcm...)
	}
	// The restarted encoder delivers its fresh container at a chunk boundary.
	splitAt := len(total)
	for _, chunk := range chunkBoundaries(second, []int{97}) {
		pcm, _ := dec.Ingest(chunk)
		total = append(total, pcm...)
	}

	if want := len(ref1) + len(ref2); len(total) != want {
		t.Fatalf("total samples = %d, want %d (no duplicates across the seam)", len(total), want)
	}
	// The post-seam samples must be exactly the second container's decode.
	for i, s := range total[splitAt:] {
		if s != ref2[i] {
			t.Fatalf("post-refresh sample %d differs", i)
		}
	}
	if dec.Emitted() != int64(len(ref2)) {
		t.Errorf("emitted after refresh = %d, want %d (counter resets per container)", dec.Emitted(), len(ref2))
	}
}

func TestStreamDecoder_PartialHeaderYieldsNothing(t *testing.T) {
	dec := NewStreamDecoder(discardLogger())
	pcm, err := dec.Ingest([]byte{0x1A, 0x45})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) != 0 {
		t.Fatalf("samples = %d, want 0 from a partial header", len(pcm))
	}
}

func TestStreamDecoder_GarbageBeforeHeaderSkipped(t *testing.T) {
	stream := buildWebM(t, toneFrames(5))
	ref, err := NewStreamDecoder(discardLogger()).Ingest(stream)
	if err != nil {
		t.Fatalf("reference decode: %v", err)
	}

	dec := NewStreamDecoder(discardLogger())
	withJunk := append([]byte{0x00, 0x42, 0x13}, stream...)
	got, err := dec.Ingest(withJunk)
	if err != nil {
		t.Fatalf("ingest with junk prefix: %v", err)
	}
	if len(got) != len(ref) {
		t.Fatalf("samples = %d, want %d", len(got), len(ref))
	}
}

func TestStreamDecoder_ResetClearsCounter(t *testing.T) {
	stream := buildWebM(t, toneFrames(5))

	dec := NewStreamDecoder(discardLogger())
	if _, err := dec.Ingest(stream); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if dec.Emitted() == 0 {
		t.Fatal("expected samples before reset")
	}

	dec.Reset()
	if dec.Emitted() != 0 {
		t.Errorf("emitted = %d after reset, want 0", dec.Emitted())
	}

	// A fresh container decodes fine after the reset.
	pcm, err := dec.Ingest(stream)
	if err != nil {
		t.Fatalf("ingest after reset: %v", err)
	}
	if len(pcm) == 0 {
		t.Fatal("expected samples after reset")
	}
}
