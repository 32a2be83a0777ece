package protocol

import "github.com/pkg/errors"

// This error is returned when a data fragment reaches past the total length
// declared by its data header.
var ErrFragmentBounds = errors.New("fragment exceeds the declared message length")

// This error is returned when a data fragment overlaps bytes that another
// fragment of the same message already delivered.
var ErrFragmentOverlap = errors.New("fragment overlaps a previously received range")

// MessageWindow reassembles one message from data fragments arriving in any
// order. It tracks the byte ranges received so far and completes once the
// declared length is covered exactly.
type MessageWindow struct {
	length   uint64
	payload  []byte
	segments map[uint64]uint64
	received uint64
}

// CreateMessageWindow returns a window for a message whose data header
// declared the given total length.
func CreateMessageWindow(length uint64) *MessageWindow {
	return &MessageWindow{
		length:   length,
		payload:  make([]byte, length),
		segments: map[uint64]uint64{},
	}
}

// Receive applies one fragment at the given start offset. It returns the
// fully reassembled payload once all bytes are present and nil while the
// message is still incomplete. Fragments reaching past the declared length
// or overlapping earlier fragments are rejected without touching the
// window's state.
func (w *MessageWindow) Receive(start uint64, fragment []byte) ([]byte, error) {
	size := uint64(len(fragment))

	if start > w.length || w.length-start < size {
		return nil, ErrFragmentBounds
	}

	for s, l := range w.segments {
		if start < s+l && s < start+size {
			return nil, ErrFragmentOverlap
		}
	}

	// A terminal zero-length fragment is allowed and changes nothing.
	if size > 0 {
		copy(w.payload[start:], fragment)
		w.segments[start] = size
		w.received += size
	}

	if w.received != w.length {
		return nil, nil
	}

	return w.payload, nil
}

// Complete reports whether every byte of the message has been received.
func (w *MessageWindow) Complete() bool {
	return w.received == w.length
}

// Payload returns the reassembled payload. Meaningful only once Complete
// reports true.
func (w *MessageWindow) Payload() []byte {
	return w.payload
}

// ReleaseQueue holds completed messages of an ordered stream back until
// every message with a lower id has been released. Message ids increase per
// stream but are not contiguous, so the exact release order is the order in
// which the data headers arrived: the transport is ordered and the sender
// emits headers in submission order. Streams without the ordered promise
// bypass the queue entirely.
type ReleaseQueue struct {
	order []Mid
	done  map[Mid][]byte
	dead  map[Mid]struct{}
}

// CreateReleaseQueue returns an empty queue.
func CreateReleaseQueue() *ReleaseQueue {
	return &ReleaseQueue{
		done: map[Mid][]byte{},
		dead: map[Mid]struct{}{},
	}
}

// Expect records that a message was announced on the stream. Announcements
// must be fed in header arrival order.
func (q *ReleaseQueue) Expect(mid Mid) {
	q.order = append(q.order, mid)
}

// Push submits one completed message and returns the messages that may be
// released to the application now, in increasing message id order.
func (q *ReleaseQueue) Push(mid Mid, payload []byte) [][]byte {
	q.done[mid] = payload
	return q.release()
}

// Discard marks an announced message that will never complete, such as one
// rejected after reassembly, and returns the later messages whose release it
// was holding back.
func (q *ReleaseQueue) Discard(mid Mid) [][]byte {
	q.dead[mid] = struct{}{}
	return q.release()
}

func (q *ReleaseQueue) release() [][]byte {
	var release [][]byte
	for len(q.order) > 0 {
		head := q.order[0]

		if _, skip := q.dead[head]; skip {
			delete(q.dead, head)
			q.order = q.order[1:]
			continue
		}

		payload, ok := q.done[head]
		if !ok {
			break
		}

		delete(q.done, head)
		q.order = q.order[1:]
		release = append(release, payload)
	}

	return release
}

// Pending returns the number of announced messages not yet released.
func (q *ReleaseQueue) Pending() int {
	return len(q.order)
}
