package protocol

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
)

// This error is returned when the checksum trailer of a consistency stream
// does not match the reassembled payload.
var ErrIntegrity = errors.New("payload failed the consistency check")

// Transformer applies the payload transforms a stream promised at open time:
// compression, encryption and the integrity trailer. The outbound order is
// compress, encrypt, append checksum; inbound reverses it. The declared
// message length on the wire is always the fully transformed length.
type Transformer struct {
	promises  Promises
	sid       Sid
	initiator bool
	key       [32]byte
}

// CreateTransformer returns a transformer for one stream. The initiator and
// responder secrets are the ones exchanged in the channel's init frames;
// both sides derive the same encryption key from them. The initiator flag is
// the local side's connection role: both directions share the key, so the
// role keeps their nonces apart.
func CreateTransformer(promises Promises, sid Sid, initiator bool, initiatorSecret, responderSecret [SecretSize]byte) Transformer {
	t := Transformer{
		promises:  promises,
		sid:       sid,
		initiator: initiator,
	}

	if promises.Encrypted() {
		material := make([]byte, 0, 2*SecretSize)
		material = append(material, initiatorSecret[:]...)
		material = append(material, responderSecret[:]...)
		t.key = sha256.Sum256(material)
	}

	return t
}

// Outbound transforms a payload before it is fragmented into data frames.
func (t Transformer) Outbound(mid Mid, payload []byte) ([]byte, error) {
	if t.promises.Compressed() {
		payload = snappy.Encode(nil, payload)
	}

	if t.promises.Encrypted() {
		encrypted, err := t.crypt(mid, t.initiator, payload)
		if err != nil {
			return nil, err
		}
		payload = encrypted
	}

	if t.promises.Consistency() {
		sum := xxhash.Sum64(payload)
		payload = binary.LittleEndian.AppendUint64(payload, sum)
	}

	return payload, nil
}

// Inbound reverses the outbound transforms after reassembly. It returns
// ErrIntegrity if the checksum trailer does not match.
func (t Transformer) Inbound(mid Mid, payload []byte) ([]byte, error) {
	if t.promises.Consistency() {
		if len(payload) < ChecksumSize {
			return nil, ErrIntegrity
		}

		body := payload[:len(payload)-ChecksumSize]
		sum := binary.LittleEndian.Uint64(payload[len(payload)-ChecksumSize:])

		if xxhash.Sum64(body) != sum {
			return nil, ErrIntegrity
		}
		payload = body
	}

	if t.promises.Encrypted() {
		// Inbound payloads were encrypted by the peer, under its role.
		decrypted, err := t.crypt(mid, !t.initiator, payload)
		if err != nil {
			return nil, err
		}
		payload = decrypted
	}

	if t.promises.Compressed() {
		decompressed, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errors.Wrap(err, "decompress payload")
		}
		payload = decompressed
	}

	return payload, nil
}

// crypt runs the chacha20 keystream over the payload. Message ids are unique
// across all streams of a channel per direction, so (mid, direction) never
// repeats for one key; the sid bits only add margin.
func (t Transformer) crypt(mid Mid, fromInitiator bool, payload []byte) ([]byte, error) {
	tail := uint32(t.sid) & 0x7fffffff
	if fromInitiator {
		tail |= 1 << 31
	}

	var nonce [chacha20.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(mid))
	binary.LittleEndian.PutUint32(nonce[8:12], tail)

	cipher, err := chacha20.NewUnauthenticatedCipher(t.key[:], nonce[:])
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}

	out := make([]byte, len(payload))
	cipher.XORKeyStream(out, payload)

	return out, nil
}
