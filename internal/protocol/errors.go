package protocol

// ErrorKind is the machine-readable classification carried by error payloads
// and close reasons.
type ErrorKind string

const (
	// KindCapabilityUnavailable marks a required model that failed to
	// initialise at startup, which is fatal to the process. On the wire it
	// is sent, followed by a close, when a connection's pipeline cannot be
	// set up.
	KindCapabilityUnavailable ErrorKind = "capability_unavailable"

	// KindBadRequest marks invalid or conflicting connection parameters.
	// The connection is closed after the error payload.
	KindBadRequest ErrorKind = "bad_request"

	// KindRoomNotFound marks a join to a nonexistent or ended room.
	KindRoomNotFound ErrorKind = "room_not_found"

	// KindRoomFull marks a join to a room that already has two participants.
	KindRoomFull ErrorKind = "room_full"

	// KindCapabilityTimeout marks a pipeline stage that exceeded its budget.
	// Recoverable: the utterance is dropped, the session continues, and the
	// partner is not notified.
	KindCapabilityTimeout ErrorKind = "capability_timeout"

	// KindBackpressure marks an outbound queue overflow; the connection is
	// considered slow and closed.
	KindBackpressure ErrorKind = "backpressure"

	// KindProtocolViolation marks malformed client traffic. A 4-byte binary
	// frame that matches no known marker is not a violation: ParseMarker
	// classifies it as encoded audio.
	KindProtocolViolation ErrorKind = "protocol_violation"

	// KindTransportClosed marks a normal or abnormal peer disconnect.
	KindTransportClosed ErrorKind = "transport_closed"
)
