package protocol

// Promises is a bitfield of delivery guarantees attached to a stream when it
// is opened. The set is immutable for the stream's lifetime and every flag
// composes freely with the others.
type Promises uint8

const (
	// PromiseOrdered guarantees that messages are delivered to the
	// application in the order they were submitted on the stream.
	PromiseOrdered Promises = 1 << iota
	// PromiseConsistency guarantees that payloads are verified with a
	// checksum before delivery; corrupted messages are rejected.
	PromiseConsistency
	// PromiseGuaranteedDelivery guarantees that every submitted message is
	// delivered exactly once, or the stream is reported as failed.
	PromiseGuaranteedDelivery
	// PromiseCompressed passes payloads through a compression transform
	// before framing.
	PromiseCompressed
	// PromiseEncrypted passes payloads through an encryption transform
	// keyed by the channel's negotiated secret.
	PromiseEncrypted

	promisesAll = PromiseOrdered | PromiseConsistency | PromiseGuaranteedDelivery |
		PromiseCompressed | PromiseEncrypted
)

// Returns whether the ordered promise is set.
func (p Promises) Ordered() bool {
	return p&PromiseOrdered != 0
}

// Returns whether the consistency promise is set.
func (p Promises) Consistency() bool {
	return p&PromiseConsistency != 0
}

// Returns whether the guaranteed delivery promise is set.
func (p Promises) GuaranteedDelivery() bool {
	return p&PromiseGuaranteedDelivery != 0
}

// Returns whether the compressed promise is set.
func (p Promises) Compressed() bool {
	return p&PromiseCompressed != 0
}

// Returns whether the encrypted promise is set.
func (p Promises) Encrypted() bool {
	return p&PromiseEncrypted != 0
}

// Returns whether no unknown bits are set.
func (p Promises) Valid() bool {
	return p&^promisesAll == 0
}

// Truncated drops bits this implementation does not know, the way a newer
// patch release's extra flags are tolerated rather than rejected.
func (p Promises) Truncated() Promises {
	return p & promisesAll
}
