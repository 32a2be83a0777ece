package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSecrets() ([SecretSize]byte, [SecretSize]byte) {
	var a, b [SecretSize]byte
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(0xf0 - i)
	}
	return a, b
}

// testTransformers returns the two ends of one stream, the way each side of
// a channel builds its transformer.
func testTransformers(promises Promises, sid Sid) (initiator, responder Transformer) {
	a, b := testSecrets()
	return CreateTransformer(promises, sid, true, a, b),
		CreateTransformer(promises, sid, false, a, b)
}

func TestTransformRoundTrip(t *testing.T) {
	requireT := require.New(t)

	payload := append(bytes.Repeat([]byte("weave "), 512), "tail"...)

	combos := []Promises{
		0,
		PromiseConsistency,
		PromiseCompressed,
		PromiseEncrypted,
		PromiseCompressed | PromiseEncrypted,
		PromiseConsistency | PromiseCompressed | PromiseEncrypted,
		PromiseOrdered | PromiseConsistency | PromiseGuaranteedDelivery |
			PromiseCompressed | PromiseEncrypted,
	}

	for _, promises := range combos {
		local, remote := testTransformers(promises, 42)

		out, err := local.Outbound(7, payload)
		requireT.NoError(err)

		back, err := remote.Inbound(7, out)
		requireT.NoError(err)
		requireT.Equal(payload, back)

		// And the opposite direction.
		out, err = remote.Outbound(7, payload)
		requireT.NoError(err)

		back, err = local.Inbound(7, out)
		requireT.NoError(err)
		requireT.Equal(payload, back)
	}
}

func TestTransformChecksumDetectsCorruption(t *testing.T) {
	requireT := require.New(t)

	local, remote := testTransformers(PromiseConsistency, 1)

	out, err := local.Outbound(1, []byte("payload under test"))
	requireT.NoError(err)

	for i := range out {
		corrupted := append([]byte(nil), out...)
		corrupted[i] ^= 0x01

		_, err := remote.Inbound(1, corrupted)
		requireT.ErrorIs(err, ErrIntegrity)
	}

	_, err = remote.Inbound(1, []byte{1, 2, 3})
	requireT.ErrorIs(err, ErrIntegrity)
}

func TestTransformEncryptsPayload(t *testing.T) {
	requireT := require.New(t)

	local, remote := testTransformers(PromiseEncrypted, 3)
	payload := bytes.Repeat([]byte{0xaa}, 256)

	out, err := local.Outbound(9, payload)
	requireT.NoError(err)
	requireT.Len(out, len(payload))
	requireT.NotEqual(payload, out)

	// A different message id yields a different keystream.
	other, err := local.Outbound(10, payload)
	requireT.NoError(err)
	requireT.NotEqual(out, other)

	back, err := remote.Inbound(9, out)
	requireT.NoError(err)
	requireT.Equal(payload, back)
}

func TestTransformDirectionsUseDistinctKeystreams(t *testing.T) {
	requireT := require.New(t)

	// Both directions share the key and both mid counters start at the same
	// value, so equal (mid, sid) pairs occur on both sides of a stream. The
	// keystreams must still differ, otherwise XORing the two ciphertexts
	// with one known plaintext recovers the other.
	initiator, responder := testTransformers(PromiseEncrypted, 2)

	p1 := []byte("sixteen byte msg")
	p2 := []byte("0123456789abcdef")

	c1, err := initiator.Outbound(FirstMid, p1)
	requireT.NoError(err)
	c2, err := responder.Outbound(FirstMid, p2)
	requireT.NoError(err)

	leaked := make([]byte, len(p1))
	for i := range leaked {
		leaked[i] = c1[i] ^ c2[i] ^ p2[i]
	}
	requireT.NotEqual(p1, leaked)

	// Each direction still decrypts at the far end.
	back, err := responder.Inbound(FirstMid, c1)
	requireT.NoError(err)
	requireT.Equal(p1, back)

	back, err = initiator.Inbound(FirstMid, c2)
	requireT.NoError(err)
	requireT.Equal(p2, back)
}

func TestTransformRejectsGarbageCompression(t *testing.T) {
	_, remote := testTransformers(PromiseCompressed, 5)

	_, err := remote.Inbound(1, []byte{0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestTransformEmptyPayload(t *testing.T) {
	requireT := require.New(t)

	local, remote := testTransformers(PromiseConsistency|PromiseEncrypted, 6)

	out, err := local.Outbound(2, nil)
	requireT.NoError(err)
	requireT.Len(out, ChecksumSize)

	back, err := remote.Inbound(2, out)
	requireT.NoError(err)
	requireT.Empty(back)
}
