package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"

	"github.com/gamevidea/weave/internal/protocol"
)

// OpenStream announces a new stream opened by the sender. The stream id
// comes from the sender's half of the id space, so both peers may open
// streams concurrently without colliding. Priority and promises are fixed
// for the stream's lifetime.
type OpenStream struct {
	Sid      protocol.Sid
	Prio     protocol.Prio
	Promises protocol.Promises
}

func (f *OpenStream) ID() ID { return IDOpenStream }

// Reads an open stream frame from the buffer and returns an error if the
// operation failed.
func (f *OpenStream) Read(buf *buffer.Buffer) (err error) {
	var sid uint64
	if sid, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}
	f.Sid = protocol.Sid(sid)

	if f.Prio, err = buf.ReadUint8(); err != nil {
		return
	}

	var promises uint8
	if promises, err = buf.ReadUint8(); err != nil {
		return
	}
	f.Promises = protocol.Promises(promises)

	return
}

// Writes an open stream frame into the buffer and returns an error if the
// operation failed.
func (f *OpenStream) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint64(uint64(f.Sid), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.WriteUint8(f.Prio); err != nil {
		return
	}

	if err = buf.WriteUint8(uint8(f.Promises)); err != nil {
		return
	}

	return
}
