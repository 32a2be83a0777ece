package frame

import (
	"math"
	"testing"

	"github.com/gamevidea/binary/buffer"
	"github.com/stretchr/testify/require"

	"github.com/gamevidea/weave/internal/protocol"
)

func encode(t *testing.T, f Frame) []byte {
	t.Helper()

	buf := buffer.New(1 << 17)
	require.NoError(t, f.Write(buf))

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func roundTrip(t *testing.T, f Frame, decoded Frame) {
	t.Helper()

	require.NoError(t, decoded.Read(buffer.From(encode(t, f))))
	require.Equal(t, f, decoded)
}

func TestHandshakeRoundTrip(t *testing.T) {
	requireT := require.New(t)

	f := Local()
	requireT.Equal(protocol.Magic, f.Magic)

	encoded := encode(t, f)
	requireT.Len(encoded, HandshakeSize)

	roundTrip(t, f, &Handshake{})

	// Version fields are little-endian after the 7 byte magic.
	requireT.Equal(protocol.Magic[:], encoded[:7])
	requireT.Equal(byte(protocol.Version[0]), encoded[7])
	requireT.Equal(byte(protocol.Version[1]), encoded[11])
	requireT.Equal(byte(protocol.Version[2]), encoded[15])
}

func TestInitRoundTrip(t *testing.T) {
	f := &Init{Pid: protocol.FakePid(3)}
	for i := range f.Secret {
		f.Secret[i] = byte(i * 7)
	}

	require.Len(t, encode(t, f), InitSize)
	roundTrip(t, f, &Init{})
}

func TestShutdownHasNoBody(t *testing.T) {
	require.Empty(t, encode(t, &Shutdown{}))
}

func TestOpenStreamRoundTrip(t *testing.T) {
	requireT := require.New(t)

	f := &OpenStream{
		Sid:      protocol.SidOffsetResponder + 17,
		Prio:     42,
		Promises: protocol.PromiseOrdered | protocol.PromiseEncrypted,
	}

	encoded := encode(t, f)
	requireT.Len(encoded, OpenStreamSize)
	requireT.Equal(byte(42), encoded[8])
	requireT.Equal(byte(0x11), encoded[9])

	roundTrip(t, f, &OpenStream{})
}

func TestCloseStreamRoundTrip(t *testing.T) {
	f := &CloseStream{Sid: math.MaxUint64}
	require.Len(t, encode(t, f), CloseStreamSize)
	roundTrip(t, f, &CloseStream{})
}

func TestDataHeaderRoundTrip(t *testing.T) {
	requireT := require.New(t)

	f := &DataHeader{Mid: 0x0102030405060708, Sid: 77, Length: 10000}

	encoded := encode(t, f)
	requireT.Len(encoded, DataHeaderSize)
	requireT.Equal(byte(0x08), encoded[0])
	requireT.Equal(byte(0x01), encoded[7])

	roundTrip(t, f, &DataHeader{})
}

func TestDataRoundTrip(t *testing.T) {
	payload := make([]byte, 1808)
	for i := range payload {
		payload[i] = byte(i)
	}

	roundTrip(t, &Data{Mid: 5, Start: 8192, Payload: payload}, &Data{})
}

func TestDataBoundaryValues(t *testing.T) {
	requireT := require.New(t)

	// Zero-length terminal fragment at the maximum offset.
	f := &Data{Mid: 1, Start: math.MaxUint64, Payload: []byte{}}
	encoded := encode(t, f)
	requireT.Len(encoded, DataHeadSize)

	roundTrip(t, f, &Data{})
}

func TestRawRoundTrip(t *testing.T) {
	f := &Raw{Payload: []byte("debug escape hatch")}
	require.Len(t, encode(t, f), RawHeadSize+len(f.Payload))
	roundTrip(t, f, &Raw{})
}

func TestDecodeFailsOnShortBuffer(t *testing.T) {
	requireT := require.New(t)

	frames := map[Frame][]byte{
		&Handshake{}:   make([]byte, HandshakeSize-1),
		&Init{}:        make([]byte, InitSize-1),
		&OpenStream{}:  make([]byte, OpenStreamSize-1),
		&CloseStream{}: make([]byte, CloseStreamSize-1),
		&DataHeader{}:  make([]byte, DataHeaderSize-1),
		&Data{}:        make([]byte, DataHeadSize-1),
		&Raw{}:         make([]byte, RawHeadSize-1),
	}

	for f, short := range frames {
		requireT.Error(f.Read(buffer.From(short)), "frame %s", Name(f.ID()))
	}
}

func TestDecodeFailsOnTruncatedPayload(t *testing.T) {
	requireT := require.New(t)

	full := encode(t, &Data{Mid: 1, Start: 0, Payload: []byte("0123456789")})
	requireT.Error((&Data{}).Read(buffer.From(full[:len(full)-3])))

	rawFull := encode(t, &Raw{Payload: []byte("0123456789")})
	requireT.Error((&Raw{}).Read(buffer.From(rawFull[:len(rawFull)-3])))
}

func TestFrameIDsAreStable(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(ID(0), (&Handshake{}).ID())
	requireT.Equal(ID(1), (&Init{}).ID())
	requireT.Equal(ID(2), (&Shutdown{}).ID())
	requireT.Equal(ID(3), (&OpenStream{}).ID())
	requireT.Equal(ID(4), (&CloseStream{}).ID())
	requireT.Equal(ID(5), (&DataHeader{}).ID())
	requireT.Equal(ID(6), (&Data{}).ID())
	requireT.Equal(ID(7), (&Raw{}).ID())

	requireT.Equal("OpenStream", Name(3))
	requireT.Equal("Unknown", Name(200))
}
