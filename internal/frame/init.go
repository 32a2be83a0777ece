package frame

import (
	"github.com/gamevidea/binary/buffer"

	"github.com/gamevidea/weave/internal/protocol"
)

// Init is sent by both peers right after a successful handshake. It binds
// the channel to the sender's participant identity and carries the random
// secret used to authenticate later reconnection attempts by the same
// participant.
type Init struct {
	Pid    protocol.Pid
	Secret [protocol.SecretSize]byte
}

func (f *Init) ID() ID { return IDInit }

// Reads an init frame from the buffer and returns an error if the operation
// failed.
func (f *Init) Read(buf *buffer.Buffer) (err error) {
	var pid [protocol.PidSize]byte
	if err = buf.Read(pid[:]); err != nil {
		return
	}
	f.Pid = protocol.PidFromBytes(pid)

	if err = buf.Read(f.Secret[:]); err != nil {
		return
	}

	return
}

// Writes an init frame into the buffer and returns an error if the
// operation failed.
func (f *Init) Write(buf *buffer.Buffer) (err error) {
	pid := f.Pid.Bytes()
	if err = buf.Write(pid[:]); err != nil {
		return
	}

	if err = buf.Write(f.Secret[:]); err != nil {
		return
	}

	return
}
