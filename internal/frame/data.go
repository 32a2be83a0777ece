package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"

	"github.com/gamevidea/weave/internal/protocol"
)

// Data carries one fragment of a message's payload, the byte range
// [Start, Start+len(Payload)). The stream it belongs to is known from the
// preceding data header for the same message id. The payload is length
// prefixed with a u16, which also bounds the fragment size.
type Data struct {
	Mid     protocol.Mid
	Start   uint64
	Payload []byte
}

func (f *Data) ID() ID { return IDData }

// Reads a data frame from the buffer and returns an error if the operation
// failed.
func (f *Data) Read(buf *buffer.Buffer) (err error) {
	var v uint64

	if v, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}
	f.Mid = protocol.Mid(v)

	if f.Start, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}

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

// Writes a data frame into the buffer and returns an error if the operation
// failed.
func (f *Data) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint64(uint64(f.Mid), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.WriteUint64(f.Start, byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.WriteUint16(uint16(len(f.Payload)), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.Write(f.Payload); err != nil {
		return
	}

	return
}
