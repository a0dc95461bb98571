package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Element IDs of the WebM (Matroska/EBML) subset a MediaRecorder Opus stream
// uses. IDs are stored with their length-marker bit intact, the way they
// appear on the wire.
const (
	idEBMLHeader  = 0x1A45DFA3
	idSegment     = 0x18538067
	idSeekHead    = 0x114D9B74
	idInfo        = 0x1549A966
	idTracks      = 0x1654AE6B
	idCluster     = 0x1F43B675
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idCodecID     = 0x86
	idAudio       = 0xE1
	idSampleFreq  = 0xB5
	idChannels    = 0x9F
	idTimecode    = 0xE7
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
)

const opusCodecID = "A_OPUS"

// errNeedMore signals that the buffer ends inside an element; the demuxer
// keeps the tail and waits for the next ingest.
var errNeedMore = errors.New("webm: need more data")

// trackInfo describes the single audio track the demuxer follows.
type trackInfo struct {
	number     uint64
	channels   int
	sampleRate float64
}

// webmDemuxer is an incremental parser for a growing WebM byte stream. It
// consumes complete elements as they arrive and emits raw Opus packets from
// SimpleBlock / BlockGroup payloads. Each block is consumed exactly once, so
// downstream never sees a duplicated packet even though the client appends to
// one continuous container.
type webmDemuxer struct {
	buf   []byte
	track trackInfo
}

// Demux appends data to the internal buffer and returns the Opus packets of
// every block that is now complete. Packets for tracks other than the first
// Opus audio track are discarded.
func (d *webmDemuxer) Demux(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var packets [][]byte
	for len(d.buf) > 0 {
		consumed, pkts, err := d.parseElement(d.buf)
		if errors.Is(err, errNeedMore) {
			break
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, pkts...)
		d.buf = d.buf[consumed:]
	}
	return packets, nil
}

// Reset discards all buffered bytes and track state, ready for a fresh
// container header.
func (d *webmDemuxer) Reset() {
	d.buf = nil
	d.track = trackInfo{}
}

// parseElement handles one element at the start of buf. Master elements with
// unknown size (Segment, Cluster) are entered by consuming only their header;
// all other elements must be fully present.
func (d *webmDemuxer) parseElement(buf []byte) (consumed int, packets [][]byte, err error) {
	id, idLen, ok := readElementID(buf)
	if !ok {
		return 0, nil, errNeedMore
	}
	size, szLen, unknown, ok := readElementSize(buf[idLen:])
	if !ok {
		return 0, nil, errNeedMore
	}
	hdr := idLen + szLen

	switch id {
	case idSegment, idCluster:
		// Master elements: descend by consuming only the header, without
		// requiring the (typically unknown-size) content to be present.
		return hdr, nil, nil

	case idTracks:
		if unknown {
			return 0, nil, fmt.Errorf("webm: tracks element with unknown size")
		}
		if len(buf) < hdr+int(size) {
			return 0, nil, errNeedMore
		}
		if err := d.parseTracks(buf[hdr : hdr+int(size)]); err != nil {
			return 0, nil, err
		}
		return hdr + int(size), nil, nil

	case idSimpleBlock:
		if unknown || len(buf) < hdr+int(size) {
			if unknown {
				return 0, nil, fmt.Errorf("webm: block with unknown size")
			}
			return 0, nil, errNeedMore
		}
		pkt, err := d.blockPayload(buf[hdr : hdr+int(size)])
		if err != nil {
			return 0, nil, err
		}
		if pkt != nil {
			packets = append(packets, pkt)
		}
		return hdr + int(size), packets, nil

	case idBlockGroup:
		if unknown {
			return 0, nil, fmt.Errorf("webm: block group with unknown size")
		}
		if len(buf) < hdr+int(size) {
			return 0, nil, errNeedMore
		}
		pkts, err := d.parseBlockGroup(buf[hdr : hdr+int(size)])
		if err != nil {
			return 0, nil, err
		}
		return hdr + int(size), pkts, nil

	default:
		// EBML header, SeekHead, Info, Timecode, Void, Tags, ... — skip whole.
		if unknown {
			// Only Segment/Cluster legitimately carry unknown sizes.
			return 0, nil, fmt.Errorf("webm: element %#x with unknown size", id)
		}
		if len(buf) < hdr+int(size) {
			return 0, nil, errNeedMore
		}
		return hdr + int(size), nil, nil
	}
}

// parseTracks walks the TrackEntry children and records the first Opus audio
// track. Non-Opus tracks are ignored; their blocks will be dropped later.
func (d *webmDemuxer) parseTracks(body []byte) error {
	for len(body) > 0 {
		id, idLen, ok := readElementID(body)
		if !ok {
			return fmt.Errorf("webm: truncated tracks element")
		}
		size, szLen, unknown, ok := readElementSize(body[idLen:])
		if !ok || unknown {
			return fmt.Errorf("webm: truncated tracks element")
		}
		hdr := idLen + szLen
		if len(body) < hdr+int(size) {
			return fmt.Errorf("webm: truncated tracks element")
		}
		if id == idTrackEntry {
			d.parseTrackEntry(body[hdr : hdr+int(size)])
		}
		body = body[hdr+int(size):]
	}
	return nil
}

// parseTrackEntry reads TrackNumber, CodecID and the Audio sub-element of one
// TrackEntry. Only the first A_OPUS entry wins.
func (d *webmDemuxer) parseTrackEntry(body []byte) {
	var entry trackInfo
	var codec string

	for len(body) > 0 {
		id, idLen, ok := readElementID(body)
		if !ok {
			return
		}
		size, szLen, unknown, ok := readElementSize(body[idLen:])
		if !ok || unknown {
			return
		}
		hdr := idLen + szLen
		if len(body) < hdr+int(size) {
			return
		}
		content := body[hdr : hdr+int(size)]

		switch id {
		case idTrackNumber:
			entry.number = readUint(content)
		case idCodecID:
			codec = string(content)
		case idAudio:
			entry.channels, entry.sampleRate = parseAudioElement(content)
		}
		body = body[hdr+int(size):]
	}

	if codec == opusCodecID && d.track.number == 0 {
		if entry.channels == 0 {
			entry.channels = 1
		}
		if entry.sampleRate == 0 {
			entry.sampleRate = 48000
		}
		d.track = entry
	}
}

// parseAudioElement extracts Channels and SamplingFrequency.
func parseAudioElement(body []byte) (channels int, rate float64) {
	for len(body) > 0 {
		id, idLen, ok := readElementID(body)
		if !ok {
			return
		}
		size, szLen, unknown, ok := readElementSize(body[idLen:])
		if !ok || unknown {
			return
		}
		hdr := idLen + szLen
		if len(body) < hdr+int(size) {
			return
		}
		content := body[hdr : hdr+int(size)]

		switch id {
		case idChannels:
			channels = int(readUint(content))
		case idSampleFreq:
			rate = readFloat(content)
		}
		body = body[hdr+int(size):]
	}
	return
}

// parseBlockGroup extracts Block payloads from a BlockGroup body.
func (d *webmDemuxer) parseBlockGroup(body []byte) ([][]byte, error) {
	var packets [][]byte
	for len(body) > 0 {
		id, idLen, ok := readElementID(body)
		if !ok {
			return packets, fmt.Errorf("webm: truncated block group")
		}
		size, szLen, unknown, ok := readElementSize(body[idLen:])
		if !ok || unknown {
			return packets, fmt.Errorf("webm: truncated block group")
		}
		hdr := idLen + szLen
		if len(body) < hdr+int(size) {
			return packets, fmt.Errorf("webm: truncated block group")
		}
		if id == idBlock {
			pkt, err := d.blockPayload(body[hdr : hdr+int(size)])
			if err != nil {
				return packets, err
			}
			if pkt != nil {
				packets = append(packets, pkt)
			}
		}
		body = body[hdr+int(size):]
	}
	return packets, nil
}

// blockPayload strips the block header (track vint, 16-bit timecode, flags)
// and returns the raw Opus frame. Laced blocks are not produced by the
// browser encoder chain; they are dropped with an error so the caller can log
// once and resynchronise at the next header refresh.
func (d *webmDemuxer) blockPayload(block []byte) ([]byte, error) {
	trackNum, n, _, ok := readElementSize(block)
	if !ok || len(block) < n+3 {
		return nil, fmt.Errorf("webm: short block header")
	}
	if d.track.number != 0 && trackNum != d.track.number {
		return nil, nil
	}
	flags := block[n+2]
	if flags&0x06 != 0 {
		return nil, fmt.Errorf("webm: laced block unsupported")
	}
	frame := block[n+3:]
	if len(frame) == 0 {
		return nil, nil
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// readElementID reads an EBML element ID (1–4 bytes, marker bit kept).
func readElementID(buf []byte) (id uint32, n int, ok bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	b := buf[0]
	switch {
	case b&0x80 != 0:
		n = 1
	case b&0x40 != 0:
		n = 2
	case b&0x20 != 0:
		n = 3
	case b&0x10 != 0:
		n = 4
	default:
		// Invalid ID lead byte; report as a 1-byte ID so the caller errors
		// out rather than stalling forever.
		return uint32(b), 1, true
	}
	if len(buf) < n {
		return 0, 0, false
	}
	for i := range n {
		id = id<<8 | uint32(buf[i])
	}
	return id, n, true
}

// readElementSize reads an EBML size vint (1–8 bytes, marker bit stripped).
// unknown reports the all-ones "unknown size" encoding.
func readElementSize(buf []byte) (size uint64, n int, unknown bool, ok bool) {
	if len(buf) == 0 {
		return 0, 0, false, false
	}
	b := buf[0]
	mask := byte(0x80)
	for n = 1; n <= 8; n++ {
		if b&mask != 0 {
			break
		}
		mask >>= 1
	}
	if n > 8 || len(buf) < n {
		return 0, 0, false, false
	}
	size = uint64(b & (mask - 1))
	for i := 1; i < n; i++ {
		size = size<<8 | uint64(buf[i])
	}
	// Unknown size: all value bits set.
	maxVal := uint64(1)<<uint(7*n) - 1
	return size, n, size == maxVal, true
}

// readUint decodes a big-endian unsigned integer of up to 8 bytes.
func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// readFloat decodes an EBML float element (4 or 8 bytes big-endian).
func readFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return 0
	}
}
