package frame

import "github.com/gamevidea/binary/buffer"

// ID represents a frame kind. It is written as a single byte in front of
// every frame on the wire.
type ID = uint8

const (
	IDHandshake ID = iota
	IDInit
	IDShutdown
	IDOpenStream
	IDCloseStream
	IDDataHeader
	IDData
	IDRaw
)

// Encoded sizes of the fixed-size frame kinds, excluding the kind byte.
// Callers must buffer this many bytes before decoding.
const (
	HandshakeSize   = 19
	InitSize        = 32
	ShutdownSize    = 0
	OpenStreamSize  = 10
	CloseStreamSize = 8
	DataHeaderSize  = 24

	// Data and raw frames carry a variable payload after a fixed head.
	DataHeadSize = 18
	RawHeadSize  = 2
)

// Frame is one unit of wire transmission. Encoding and decoding are pure
// transforms: a frame retains no state between calls and the two operations
// are inverses for every well-formed value.
type Frame interface {
	ID() ID
	Read(buf *buffer.Buffer) (err error)
	Write(buf *buffer.Buffer) (err error)
}

// Name returns a human readable label for a frame kind, for log lines.
func Name(id ID) string {
	switch id {
	case IDHandshake:
		return "Handshake"
	case IDInit:
		return "Init"
	case IDShutdown:
		return "Shutdown"
	case IDOpenStream:
		return "OpenStream"
	case IDCloseStream:
		return "CloseStream"
	case IDDataHeader:
		return "DataHeader"
	case IDData:
		return "Data"
	case IDRaw:
		return "Raw"
	default:
		return "Unknown"
	}
}
