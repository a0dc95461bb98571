package protocol

// Marker is one of the fixed 4-byte binary control frames. Room control rides
// on binary markers instead of JSON so the audio path stays uniform: any
// 4-byte binary frame matching a marker is control, everything else is
// encoded audio.
type Marker string

const (
	// MarkerStart is sent by the host to start the session (waiting or ready → active).
	MarkerStart Marker = "STRT"

	// MarkerEnd is sent by the host to end the session (active → ready).
	MarkerEnd Marker = "ENDS"

	// MarkerMute announces that the sending participant muted.
	MarkerMute Marker = "MUTE"

	// MarkerUnmute announces that the sending participant unmuted.
	MarkerUnmute Marker = "UNMT"
)

// markerLen is the exact frame length a control marker occupies.
const markerLen = 4

// ParseMarker classifies a binary frame. ok is false when the frame is not a
// control marker and must be treated as encoded audio — including 4-byte
// frames that match none of the known markers.
func ParseMarker(frame []byte) (Marker, bool) {
	if len(frame) != markerLen {
		return "", false
	}
	switch m := Marker(frame); m {
	case MarkerStart, MarkerEnd, MarkerMute, MarkerUnmute:
		return m, true
	}
	return "", false
}
