package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type fragment struct {
	start uint64
	data  []byte
}

func fragmentsOf(payload []byte, size int) []fragment {
	var out []fragment
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, fragment{start: uint64(start), data: payload[start:end]})
	}
	return out
}

func TestReassemblyAnyOrder(t *testing.T) {
	requireT := require.New(t)

	payload := make([]byte, 10000)
	rnd := rand.New(rand.NewSource(1))
	_, err := rnd.Read(payload)
	requireT.NoError(err)

	fragments := fragmentsOf(payload, 1808)

	orders := [][]int{nil, nil, nil}
	for i := range fragments {
		orders[0] = append(orders[0], i)
		orders[1] = append([]int{i}, orders[1]...)
	}
	orders[2] = rnd.Perm(len(fragments))

	for _, order := range orders {
		w := CreateMessageWindow(uint64(len(payload)))

		var got []byte
		for _, i := range order {
			complete, err := w.Receive(fragments[i].start, fragments[i].data)
			requireT.NoError(err)
			if complete != nil {
				got = complete
			}
		}

		requireT.True(w.Complete())
		requireT.Equal(payload, got)
	}
}

func TestReassemblyTerminalEmptyFragment(t *testing.T) {
	requireT := require.New(t)

	payload := []byte("abcdef")
	w := CreateMessageWindow(uint64(len(payload)))

	complete, err := w.Receive(uint64(len(payload)), nil)
	requireT.NoError(err)
	requireT.Nil(complete)

	complete, err = w.Receive(0, payload)
	requireT.NoError(err)
	requireT.Equal(payload, complete)
}

func TestReassemblyRejectsOutOfBounds(t *testing.T) {
	requireT := require.New(t)

	w := CreateMessageWindow(10)

	_, err := w.Receive(8, []byte{1, 2, 3})
	requireT.ErrorIs(err, ErrFragmentBounds)

	_, err = w.Receive(11, nil)
	requireT.ErrorIs(err, ErrFragmentBounds)

	// The rejection left the window untouched.
	complete, err := w.Receive(0, make([]byte, 10))
	requireT.NoError(err)
	requireT.Len(complete, 10)
}

func TestReassemblyRejectsOverlap(t *testing.T) {
	requireT := require.New(t)

	w := CreateMessageWindow(10)

	_, err := w.Receive(0, []byte{1, 2, 3, 4})
	requireT.NoError(err)

	_, err = w.Receive(3, []byte{9, 9})
	requireT.ErrorIs(err, ErrFragmentOverlap)

	complete, err := w.Receive(4, []byte{5, 6, 7, 8, 9, 10})
	requireT.NoError(err)
	requireT.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, complete)
}

func TestReassemblyZeroLengthMessage(t *testing.T) {
	w := CreateMessageWindow(0)
	require.True(t, w.Complete())
	require.Empty(t, w.Payload())
}

func TestReleaseQueueOrders(t *testing.T) {
	requireT := require.New(t)

	q := CreateReleaseQueue()
	q.Expect(1)
	q.Expect(2)
	q.Expect(3)

	// Completion order 3, 1, 2 still releases 1, 2, 3.
	requireT.Empty(q.Push(3, []byte("three")))

	release := q.Push(1, []byte("one"))
	requireT.Equal([][]byte{[]byte("one")}, release)

	release = q.Push(2, []byte("two"))
	requireT.Equal([][]byte{[]byte("two"), []byte("three")}, release)

	requireT.Zero(q.Pending())
}

func TestReleaseQueueNonContiguousIds(t *testing.T) {
	requireT := require.New(t)

	// Mids come from a channel-wide counter, so one stream's ids have gaps.
	q := CreateReleaseQueue()
	q.Expect(4)
	q.Expect(9)

	requireT.Empty(q.Push(9, []byte("b")))
	requireT.Equal([][]byte{[]byte("a"), []byte("b")}, q.Push(4, []byte("a")))
}

func TestReleaseQueueDiscardUnblocksLaterMessages(t *testing.T) {
	requireT := require.New(t)

	// A message that will never complete must not withhold the ones behind
	// it forever.
	q := CreateReleaseQueue()
	q.Expect(1)
	q.Expect(2)
	q.Expect(3)

	requireT.Empty(q.Push(2, []byte("two")))
	requireT.Equal([][]byte{[]byte("two")}, q.Discard(1))
	requireT.Equal([][]byte{[]byte("three")}, q.Push(3, []byte("three")))
	requireT.Zero(q.Pending())
}

func TestReleaseQueueDiscardAtTheBack(t *testing.T) {
	requireT := require.New(t)

	q := CreateReleaseQueue()
	q.Expect(1)
	q.Expect(2)

	// Discarding a message that is not at the front releases nothing yet.
	requireT.Empty(q.Discard(2))
	requireT.Equal([][]byte{[]byte("one")}, q.Push(1, []byte("one")))
	requireT.Zero(q.Pending())
}
