package weave

import "github.com/gamevidea/weave/internal/protocol"

// Identity and stream types, re-exported for applications.
type (
	Pid      = protocol.Pid
	Cid      = protocol.Cid
	Sid      = protocol.Sid
	Mid      = protocol.Mid
	Prio     = protocol.Prio
	Promises = protocol.Promises
)

// Promise flags a stream may be opened with. They compose freely.
const (
	Ordered            = protocol.PromiseOrdered
	Consistency        = protocol.PromiseConsistency
	GuaranteedDelivery = protocol.PromiseGuaranteedDelivery
	Compressed         = protocol.PromiseCompressed
	Encrypted          = protocol.PromiseEncrypted
)

// NewPid returns a random participant identity.
func NewPid() Pid {
	return protocol.NewPid()
}

// FakePid returns a deterministic participant identity for test fixtures.
// It panics for offsets above 7 and must never be used in production.
func FakePid(offset uint8) Pid {
	return protocol.FakePid(offset)
}
