package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
)

// Raw is a debug-only escape hatch carrying an opaque length-prefixed
// payload outside the stream machinery. Normal application traffic never
// uses it and channels reject it unless explicitly configured to accept raw
// frames.
type Raw struct {
	Payload []byte
}

func (f *Raw) ID() ID { return IDRaw }

// Reads a raw frame from the buffer and returns an error if the operation
// failed.
func (f *Raw) Read(buf *buffer.Buffer) (err error) {
	var length uint16
	if length, err = buf.ReadUint16(byteorder.LittleEndian); err != nil {
		return
	}

	f.Payload = make([]byte, length)
	if err = buf.Read(f.Payload); err != nil {
		return
	}

	return
}

// Writes a raw frame into the buffer and returns an error if the operation
// failed.
func (f *Raw) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint16(uint16(len(f.Payload)), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.Write(f.Payload); err != nil {
		return
	}

	return
}
