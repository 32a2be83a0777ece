package frame

import (
	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"

	"github.com/gamevidea/weave/internal/protocol"
)

// Handshake is the first frame both peers send on a fresh channel. It names
// the protocol family with a fixed magic token and announces the sender's
// protocol version so that incompatible peers part ways before exchanging
// identities.
type Handshake struct {
	Magic   [7]byte
	Version [3]uint32
}

func (f *Handshake) ID() ID { return IDHandshake }

// Reads a handshake frame from the buffer and returns an error if the
// operation failed.
func (f *Handshake) Read(buf *buffer.Buffer) (err error) {
	if err = buf.Read(f.Magic[:]); err != nil {
		return
	}

	for i := range f.Version {
		if f.Version[i], err = buf.ReadUint32(byteorder.LittleEndian); err != nil {
			return
		}
	}

	return
}

// Writes a handshake frame into the buffer and returns an error if the
// operation failed.
func (f *Handshake) Write(buf *buffer.Buffer) (err error) {
	if err = buf.Write(f.Magic[:]); err != nil {
		return
	}

	for i := range f.Version {
		if err = buf.WriteUint32(f.Version[i], byteorder.LittleEndian); err != nil {
			return
		}
	}

	return
}

// Local returns the handshake frame this implementation announces.
func Local() *Handshake {
	return &Handshake{
		Magic:   protocol.Magic,
		Version: protocol.Version,
	}
}
