package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"

	"github.com/gamevidea/weave/internal/protocol"
)

// DataHeader announces one application message on a stream and declares its
// total payload length. The data frames that follow carry byte ranges of the
// payload until the declared length is covered.
type DataHeader struct {
	Mid    protocol.Mid
	Sid    protocol.Sid
	Length uint64
}

func (f *DataHeader) ID() ID { return IDDataHeader }

// Reads a data header frame from the buffer and returns an error if the
// operation failed.
func (f *DataHeader) Read(buf *buffer.Buffer) (err error) {
	var v uint64

	if v, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}
	f.Mid = protocol.Mid(v)

	if v, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}
	f.Sid = protocol.Sid(v)

	if f.Length, err = buf.ReadUint64(byteorder.LittleEndian); err != nil {
		return
	}

	return
}

// Writes a data header frame into the buffer and returns an error if the
// operation failed.
func (f *DataHeader) Write(buf *buffer.Buffer) (err error) {
	if err = buf.WriteUint64(uint64(f.Mid), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.WriteUint64(uint64(f.Sid), byteorder.LittleEndian); err != nil {
		return
	}

	if err = buf.WriteUint64(f.Length, byteorder.LittleEndian); err != nil {
		return
	}

	return
}
