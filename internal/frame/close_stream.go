package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"

	"github.com/gamevidea/weave/internal/protocol"
)

// CloseStream destroys a stream. Incomplete reassembly buffers on the
// receiving side are discarded; data frames already in flight for the stream
// may still arrive afterwards and are dropped silently.
type CloseStream struct {
	Sid protocol.Sid
}

func (f *CloseStream) ID() ID { return IDCloseStream }

// Reads a close stream frame from the buffer and returns an error if the
// operation failed.
func (f *CloseStream) Read(buf *buffer.Buffer) (err error) {
	var sid uint64
	if sid, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}
	f.Sid = protocol.Sid(sid)

	return
}

// Writes a close stream frame into the buffer and returns an error if the
// operation failed.
func (f *CloseStream) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint64(uint64(f.Sid), byteorder.LittleEndian); err != nil {
		return
	}

	return
}
