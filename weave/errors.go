package weave

import "github.com/pkg/errors"

// This error is returned when the peer's handshake carries the wrong magic
// token or an incompatible protocol version. It is fatal to the channel but
// not to the participant or the process.
var ErrProtocolMismatch = errors.New("handshake magic or version incompatible")

// This error is returned when a reconnecting participant presents a secret
// that does not match the one recorded on first contact. It is fatal to the
// channel attempt.
var ErrAuthenticationFailure = errors.New("init secret does not match the recorded participant secret")

// This error is surfaced once per channel when the underlying transport
// fails. The participant is torn down only when it was the last channel.
var ErrChannelLost = errors.New("underlying transport failed")

// This error is returned when the channel accumulated more protocol
// violations than the configured limit tolerates.
var ErrSustainedViolations = errors.New("sustained protocol violations")

// This error is returned when an operation is attempted on a channel that
// has already closed.
var ErrChannelClosed = errors.New("channel is closed")

// This error is returned when an operation is attempted on a stream that
// has already closed.
var ErrStreamClosed = errors.New("stream is closed")

// This error is returned when an operation is attempted on a participant
// with no live channel left.
var ErrParticipantClosed = errors.New("participant is closed")

// This error is returned when a raw frame is sent or received while raw
// frames are disabled in the configuration.
var ErrRawDisabled = errors.New("raw frames are disabled")

// This error is returned when a raw frame payload exceeds the configured
// maximum frame payload size.
var ErrFramePayloadTooLarge = errors.New("frame payload exceeds the configured maximum")

// This error is returned when a frame with an unknown kind byte arrives.
// The channel cannot resynchronize after it because the frame's length is
// unknown.
var ErrUnknownFrame = errors.New("unknown frame kind")

// This error is returned when the network is closed while waiting for a
// connection or a participant.
var ErrNetworkClosed = errors.New("network is closed")
