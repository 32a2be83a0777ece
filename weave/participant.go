package weave

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gamevidea/weave/internal/protocol"
)

// Participant represents the remote endpoint of communication, spanning
// possibly several channels. Streams may be opened over any of its live
// channels; the participant itself is torn down once its last channel is
// gone.
type Participant struct {
	pid protocol.Pid
	log *zap.Logger

	mu       sync.Mutex
	channels map[protocol.Cid]*Channel
	err      error

	opened chan *Stream
	done   chan struct{}
	once   sync.Once
}

func newParticipant(pid protocol.Pid, log *zap.Logger) *Participant {
	return &Participant{
		pid:      pid,
		log:      log.With(zap.Stringer("peer", pid)),
		channels: map[protocol.Cid]*Channel{},
		opened:   make(chan *Stream, 16),
		done:     make(chan struct{}),
	}
}

// Pid returns the remote participant's identity.
func (p *Participant) Pid() protocol.Pid {
	return p.pid
}

// Done is closed when the participant has no live channel left.
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

// Err returns the error of the channel loss that tore the participant down,
// or nil after a graceful close. Valid once Done is closed.
func (p *Participant) Err() error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	default:
		return nil
	}
}

// OpenStream opens a stream with the given priority and promises over one
// of the participant's channels. Opening never waits for the peer.
func (p *Participant) OpenStream(prio protocol.Prio, promises protocol.Promises) (*Stream, error) {
	p.mu.Lock()
	var c *Channel
	for _, ch := range p.channels {
		c = ch
		break
	}
	p.mu.Unlock()

	if c == nil {
		return nil, ErrParticipantClosed
	}

	return c.openStream(prio, promises)
}

// AcceptStream blocks until the peer opens a stream.
func (p *Participant) AcceptStream() (*Stream, error) {
	select {
	case s := <-p.opened:
		return s, nil
	case <-p.done:
		// Hand out streams the peer opened before teardown finished.
		select {
		case s := <-p.opened:
			return s, nil
		default:
			return nil, ErrParticipantClosed
		}
	}
}

// Close shuts down all channels gracefully. In-flight frames are flushed
// before the connections close; Done reports when teardown finished.
func (p *Participant) Close() error {
	p.mu.Lock()
	channels := make([]*Channel, 0, len(p.channels))
	for _, c := range p.channels {
		channels = append(channels, c)
	}
	p.mu.Unlock()

	if len(channels) == 0 {
		return ErrParticipantClosed
	}

	for _, c := range channels {
		_ = c.Close()
	}

	return nil
}

// attach adds an established channel and starts forwarding its peer-opened
// streams.
func (p *Participant) attach(c *Channel) {
	p.mu.Lock()
	p.channels[c.cid] = c
	p.mu.Unlock()

	c.part.Store(p)

	go func() {
		for s := range c.opened {
			select {
			case p.opened <- s:
			case <-p.done:
				return
			}
		}
	}()

	// The channel may have died between establishment and attachment; make
	// sure its loss is not swallowed.
	if c.isClosed() && c.lostReported.CompareAndSwap(false, true) {
		p.channelClosed(c, c.Err())
	}
}

// channelClosed records the loss or graceful close of one channel. Tearing
// the participant down happens only when it was the last one.
func (p *Participant) channelClosed(c *Channel, err error) {
	p.mu.Lock()
	delete(p.channels, c.cid)
	last := len(p.channels) == 0
	if err != nil {
		p.err = err
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("channel lost", zap.Uint64("cid", uint64(c.cid)), zap.Error(err))
	} else {
		p.log.Debug("channel closed", zap.Uint64("cid", uint64(c.cid)))
	}

	if last {
		p.once.Do(func() {
			close(p.done)
		})
	}
}
