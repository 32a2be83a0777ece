package weave

import (
	"sync"

	"github.com/gamevidea/weave/internal/frame"
	"github.com/gamevidea/weave/internal/protocol"
)

// Stream is one logical, independently ordered sequence of messages
// multiplexed over a channel. Its priority and promises are fixed when it is
// opened and hold until it closes.
type Stream struct {
	sid      protocol.Sid
	prio     protocol.Prio
	promises protocol.Promises

	c           *Channel
	transformer protocol.Transformer

	// release buffers completed messages of an ordered stream; it is
	// touched only by the channel's reader. Nil without the ordered
	// promise.
	release *protocol.ReleaseQueue

	incoming chan []byte
	failures chan error

	sendMu sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func newStream(c *Channel, sid protocol.Sid, prio protocol.Prio, promises protocol.Promises) *Stream {
	initiatorSecret, responderSecret := c.localSecret, c.remoteSecret
	if !c.initiator {
		initiatorSecret, responderSecret = c.remoteSecret, c.localSecret
	}

	s := &Stream{
		sid:         sid,
		prio:        prio,
		promises:    promises,
		c:           c,
		transformer: protocol.CreateTransformer(promises, sid, c.initiator, initiatorSecret, responderSecret),
		incoming:    make(chan []byte, c.cfg.ReceiveQueueSize),
		failures:    make(chan error, 8),
		done:        make(chan struct{}),
	}

	if promises.Ordered() {
		s.release = protocol.CreateReleaseQueue()
	}

	return s
}

// Sid returns the stream id.
func (s *Stream) Sid() protocol.Sid {
	return s.sid
}

// Priority returns the scheduling priority the stream was opened with.
func (s *Stream) Priority() protocol.Prio {
	return s.prio
}

// Promises returns the delivery guarantees the stream was opened with.
func (s *Stream) Promises() protocol.Promises {
	return s.promises
}

// Messages yields reassembled messages delivered to this stream. The
// channel is closed when the peer closes the stream or the channel dies.
func (s *Stream) Messages() <-chan []byte {
	return s.incoming
}

// Failures yields delivery failures on streams with the guaranteed delivery
// promise, such as messages discarded after a failed consistency check.
// Retransmission is the application's call: resubmit or tear down.
func (s *Stream) Failures() <-chan error {
	return s.failures
}

// Done is closed when the stream is closed, by either side.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Send submits one message. It fragments the payload into data frames after
// applying the stream's transforms and queues them for the channel's
// scheduler. Send blocks only when the channel's send queue is full, never
// on the network round trip.
func (s *Stream) Send(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isClosed() {
		return ErrStreamClosed
	}

	// Holding the gate ensures everything queued here is flushed before a
	// concurrent graceful shutdown writes its final frame.
	s.c.sendGate.RLock()
	defer s.c.sendGate.RUnlock()

	s.c.mu.Lock()
	down := s.c.shutdown
	s.c.mu.Unlock()
	if down {
		return ErrChannelClosed
	}

	mid := s.c.allocMid()

	out, err := s.transformer.Outbound(mid, payload)
	if err != nil {
		return err
	}

	header := &frame.DataHeader{Mid: mid, Sid: s.sid, Length: uint64(len(out))}
	if err := s.c.enqueue(queuedFrame{f: header, prio: s.prio}); err != nil {
		return err
	}

	max := s.c.cfg.MaxFramePayload
	for start := 0; start < len(out); start += max {
		end := start + max
		if end > len(out) {
			end = len(out)
		}

		data := &frame.Data{Mid: mid, Start: uint64(start), Payload: out[start:end]}
		if err := s.c.enqueue(queuedFrame{f: data, prio: s.prio}); err != nil {
			return err
		}
	}

	return nil
}

// Receive blocks until the next message is delivered on the stream.
func (s *Stream) Receive() ([]byte, error) {
	select {
	case m, ok := <-s.incoming:
		if !ok {
			return nil, ErrStreamClosed
		}
		return m, nil
	case <-s.done:
		// Hand out messages that were delivered before the close.
		select {
		case m, ok := <-s.incoming:
			if !ok {
				return nil, ErrStreamClosed
			}
			return m, nil
		default:
			return nil, ErrStreamClosed
		}
	}
}

// Close closes the stream. Frames already queued for the scheduler complete;
// later fragments still in flight from the peer are dropped silently.
func (s *Stream) Close() error {
	if s.isClosed() {
		return ErrStreamClosed
	}

	return s.c.closeLocalStream(s)
}

// markClosed flags the stream as closed without touching the delivery
// channel, which only the channel's reader may close.
func (s *Stream) markClosed() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
