package protocol

// Magic is the fixed 7 byte token that opens every handshake frame. A peer
// speaking any other protocol on the same port is detected by this token
// before anything else is parsed.
var Magic = [7]byte{'W', 'E', 'A', 'V', 'N', 'E', 'T'}

// Version is the protocol version announced in the handshake frame as a
// (major, minor, patch) tuple. Peers differing in major or minor must not
// talk to each other.
var Version = [3]uint32{0, 5, 0}

// SidOffsetInitiator is the first stream id the connection initiator assigns
// to streams it opens locally.
const SidOffsetInitiator Sid = 0

// SidOffsetResponder is the first stream id the connection responder assigns
// to streams it opens locally. The two halves of the id space never meet, so
// the peers need no coordination when opening streams concurrently.
const SidOffsetResponder Sid = (1<<64 - 1) / 2

// FirstMid is the message id assigned to the first message submitted on a
// stream. Ids increase by one per message.
const FirstMid Mid = 1

// SecretSize is the size of the random secret exchanged in the init frame
// and used to authenticate resumption attempts.
const SecretSize = 16

// ChecksumSize is the size of the integrity trailer appended to payloads on
// streams with the consistency promise.
const ChecksumSize = 8

// DefaultMaxFramePayload is the default upper bound for the payload carried
// by a single data frame. Large messages are fragmented so that a slow
// stream cannot monopolize the channel for longer than one fragment.
const DefaultMaxFramePayload = 1400

// MaxFramePayload is the hard limit for a data frame payload, imposed by the
// u16 length prefix on the wire.
const MaxFramePayload = 1<<16 - 1
