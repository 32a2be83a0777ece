package protocol

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Cid identifies one physical connection (channel) between two participants.
type Cid uint64

// Sid identifies one logical stream multiplexed over a channel. The two
// peers allocate sids from disjoint halves of the id space, see
// SidOffsetInitiator and SidOffsetResponder.
type Sid uint64

// Mid identifies one application message within a stream. A message may span
// several data frames.
type Mid uint64

// Prio is the scheduling priority of a stream. Lower values are served
// first.
type Prio = uint8

// PidSize is the encoded size of a participant id in bytes.
const PidSize = 16

// Pid is the 128 bit random identity of one endpoint of communication. It is
// generated once when the participant is created and stays stable until the
// participant disconnects.
type Pid struct {
	lo, hi uint64
}

// NewPid returns a Pid with random interior value.
func NewPid() Pid {
	u := uuid.New()
	return PidFromBytes([PidSize]byte(u))
}

// FakePid returns a deterministic Pid for test fixtures. It panics for
// offsets above 7 so that it cannot sneak into production identities.
func FakePid(offset uint8) Pid {
	if offset >= 8 {
		panic("fake pid offset must be below 8")
	}

	// Repeat the offset in every sixlet of the digest so that FakePid(0)
	// renders as "AAAAAA", FakePid(1) as "BBBBBB" and so on.
	var lo uint64
	for i := 0; i < 6; i++ {
		lo |= uint64(offset) << (i * 6)
	}

	return Pid{lo: lo}
}

// Bytes returns the little-endian wire encoding of the pid.
func (p Pid) Bytes() [PidSize]byte {
	var b [PidSize]byte
	binary.LittleEndian.PutUint64(b[0:8], p.lo)
	binary.LittleEndian.PutUint64(b[8:16], p.hi)
	return b
}

// PidFromBytes is the inverse of Bytes.
func PidFromBytes(b [PidSize]byte) Pid {
	return Pid{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

const sixletAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// String renders the pid as a 6 character digest of its low-order bits, 6
// bits per character. Full 128 bit values make logs unreadable and the
// digest is not meant to be reversible.
func (p Pid) String() string {
	var digest [6]byte
	for i := 0; i < len(digest); i++ {
		digest[i] = sixletAlphabet[(p.lo>>(i*6))&0x3f]
	}
	return string(digest[:])
}
