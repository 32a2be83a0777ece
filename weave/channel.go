package weave

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gamevidea/binary/buffer"
	"github.com/gamevidea/binary/byteorder"
	"go.uber.org/zap"

	"github.com/gamevidea/weave/internal/frame"
	"github.com/gamevidea/weave/internal/protocol"
)

// State represents the lifecycle state of a channel.
type State = uint8

const (
	Unestablished State = iota
	AwaitingHandshake
	AwaitingInit
	Established
	ShuttingDown
	Closed
)

// queuedFrame is one outgoing frame waiting for the channel's writer,
// together with the priority of the stream that produced it.
type queuedFrame struct {
	f    frame.Frame
	prio protocol.Prio
}

// inflightMessage is one partially reassembled incoming message. The stream
// id is remembered from the data header because data frames carry only the
// message id.
type inflightMessage struct {
	sid    protocol.Sid
	window *protocol.MessageWindow
}

// Channel drives one physical connection between two participants. It runs
// the handshake state machine, multiplexes streams over the connection and
// reassembles incoming fragments into messages.
//
// The channel owns exactly one reader and one writer goroutine. All
// reassembly state is touched only by the reader, and the writer is the sole
// writer of the underlying byte stream.
type Channel struct {
	cid  protocol.Cid
	conn io.ReadWriteCloser
	cfg  Config
	log  *zap.Logger

	initiator   bool
	localPid    protocol.Pid
	localSecret [protocol.SecretSize]byte

	remotePid    protocol.Pid
	remoteSecret [protocol.SecretSize]byte

	// Known participant secrets, owned by the accepting network. Nil on the
	// initiating side, which performs no resumption check.
	secrets *secretStore

	// sendGate orders application sends against shutdown: submissions hold
	// it shared while they enqueue, and beginShutdown takes it exclusively
	// after flagging shutdown, so a send that returned nil is queued ahead
	// of the shutdown marker and gets flushed.
	sendGate sync.RWMutex

	mu         sync.Mutex
	state      State
	violations int
	streams    map[protocol.Sid]*Stream
	tombstones map[protocol.Sid]struct{}
	inflight   map[protocol.Mid]*inflightMessage
	nextSid    protocol.Sid
	shutdown   bool

	nextMid atomic.Uint64

	established chan struct{}
	opened      chan *Stream
	raw         chan []byte
	send        chan queuedFrame
	done        chan struct{}
	once        sync.Once
	err         error

	graceful     atomic.Bool
	part         atomic.Pointer[Participant]
	lostReported atomic.Bool
}

func newChannel(
	cid protocol.Cid,
	conn io.ReadWriteCloser,
	cfg Config,
	localPid protocol.Pid,
	localSecret [protocol.SecretSize]byte,
	initiator bool,
	secrets *secretStore,
) *Channel {
	offset := protocol.SidOffsetResponder
	if initiator {
		offset = protocol.SidOffsetInitiator
	}

	c := &Channel{
		cid:         cid,
		conn:        conn,
		cfg:         cfg,
		log:         cfg.Logger.With(zap.Uint64("cid", uint64(cid)), zap.Stringer("pid", localPid)),
		initiator:   initiator,
		localPid:    localPid,
		localSecret: localSecret,
		secrets:     secrets,
		state:       Unestablished,
		streams:     map[protocol.Sid]*Stream{},
		tombstones:  map[protocol.Sid]struct{}{},
		inflight:    map[protocol.Mid]*inflightMessage{},
		nextSid:     offset,
		established: make(chan struct{}),
		opened:      make(chan *Stream, 16),
		raw:         make(chan []byte, 16),
		send:        make(chan queuedFrame, cfg.SendQueueSize),
		done:        make(chan struct{}),
	}
	c.nextMid.Store(uint64(protocol.FirstMid))

	return c
}

// run sends the local handshake immediately and starts the reader and
// writer. Both peers open with a handshake, whoever dialed.
func (c *Channel) run() {
	c.setState(AwaitingHandshake)

	go c.writeLoop()
	go c.readLoop()

	_ = c.enqueue(queuedFrame{f: frame.Local()})
}

// Cid returns the channel id.
func (c *Channel) Cid() protocol.Cid {
	return c.cid
}

// State returns the current lifecycle state of the channel.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemotePid returns the peer's participant id. Valid once the channel is
// established.
func (c *Channel) RemotePid() protocol.Pid {
	return c.remotePid
}

// Err returns the error the channel closed with, nil for graceful teardown.
// Valid once the channel is closed.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Done is closed when the channel has fully torn down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Raw yields payloads of inbound raw frames. Raw frames only pass when the
// configuration allows them.
func (c *Channel) Raw() <-chan []byte {
	return c.raw
}

// Close initiates graceful teardown: no new streams open, queued frames are
// flushed, then a shutdown frame is written and the connection closes.
func (c *Channel) Close() error {
	return c.beginShutdown()
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// allocMid hands out message ids from a channel-wide counter. Data frames
// carry no stream id on the wire, so message ids must not collide across
// streams sharing the channel.
func (c *Channel) allocMid() protocol.Mid {
	return protocol.Mid(c.nextMid.Add(1) - 1)
}

// enqueue hands a frame over to the writer, blocking when the send queue is
// full. This is the only backpressure point between the application and the
// scheduler; submission never waits on the network round trip itself.
func (c *Channel) enqueue(qf queuedFrame) error {
	select {
	case c.send <- qf:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// beginShutdown flips the channel into the shutting down state and tells the
// writer to flush and finish. Safe to call from both peers and repeatedly.
func (c *Channel) beginShutdown() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.state = ShuttingDown
	c.mu.Unlock()

	c.graceful.Store(true)

	// Wait for in-flight submissions before queueing the marker.
	c.sendGate.Lock()
	c.sendGate.Unlock()

	return c.enqueue(queuedFrame{f: &frame.Shutdown{}})
}

// openStream creates a locally initiated stream and announces it to the
// peer. It never waits for the peer: opening is fire and forget.
func (c *Channel) openStream(prio protocol.Prio, promises protocol.Promises) (*Stream, error) {
	c.mu.Lock()
	if c.state != Established {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}

	sid := c.nextSid
	c.nextSid += 1

	s := newStream(c, sid, prio, promises)
	c.streams[sid] = s
	c.mu.Unlock()

	if err := c.enqueue(queuedFrame{
		f:    &frame.OpenStream{Sid: sid, Prio: prio, Promises: promises},
		prio: prio,
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// closeLocalStream removes a stream closed by the application. Frames for
// the stream that are already queued may still go out; inbound fragments
// arriving late are dropped silently via the tombstone.
func (c *Channel) closeLocalStream(s *Stream) error {
	c.mu.Lock()
	if _, ok := c.streams[s.sid]; !ok {
		c.mu.Unlock()
		return ErrStreamClosed
	}
	delete(c.streams, s.sid)
	c.tombstones[s.sid] = struct{}{}
	c.discardInflight(s.sid)
	c.mu.Unlock()

	s.markClosed()

	return c.enqueue(queuedFrame{
		f:    &frame.CloseStream{Sid: s.sid},
		prio: s.prio,
	})
}

// discardInflight drops partial reassembly buffers of one stream. Caller
// holds c.mu.
func (c *Channel) discardInflight(sid protocol.Sid) {
	for mid, msg := range c.inflight {
		if msg.sid == sid {
			delete(c.inflight, mid)
		}
	}
}

// sendRaw queues a raw frame. Only available when the configuration allows
// raw frames.
func (c *Channel) sendRaw(payload []byte) error {
	if !c.cfg.AllowRaw {
		return ErrRawDisabled
	}
	if len(payload) > c.cfg.MaxFramePayload {
		return ErrFramePayloadTooLarge
	}

	return c.enqueue(queuedFrame{f: &frame.Raw{Payload: payload}})
}

// violation logs a protocol violation, drops the offending frame and closes
// the channel only once violations are sustained. A single race-induced
// violation never kills the channel.
func (c *Channel) violation(reason string, fields ...zap.Field) {
	c.mu.Lock()
	c.violations += 1
	count := c.violations
	c.mu.Unlock()

	c.log.Warn("protocol violation: "+reason, append(fields, zap.Int("count", count))...)

	if count > c.cfg.ViolationLimit {
		c.teardown(ErrSustainedViolations)
	}
}

// teardown forces the channel into the closed state. It is idempotent and
// safe to invoke concurrently with ongoing sends and receives; every path
// converges on the same closed state with at most one lost-channel event.
func (c *Channel) teardown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = Closed
		c.err = err
		c.mu.Unlock()

		_ = c.conn.Close()
		close(c.done)
	})
}

// readLoop reads and handles frames until the connection dies. It is the
// only goroutine touching reassembly state and the only sender on stream
// delivery channels, which is why finalize runs here.
func (c *Channel) readLoop() {
	defer c.finalize()

	r := bufio.NewReader(c.conn)

	for {
		f, err := c.readFrame(r)
		if err != nil {
			if err == ErrUnknownFrame {
				// The frame's length is unknown, the byte stream cannot be
				// resynchronized.
				c.log.Error("unknown frame kind, closing channel")
				c.teardown(ErrSustainedViolations)
			} else if c.graceful.Load() {
				c.teardown(nil)
			} else {
				c.log.Warn("transport failed", zap.Error(err))
				c.teardown(ErrChannelLost)
			}
			return
		}

		c.handleFrame(f)

		if c.isClosed() {
			return
		}
	}
}

// readFrame reads exactly one frame from the byte stream: the kind byte, the
// fixed-size body and, for data and raw frames, the length-prefixed payload.
func (c *Channel) readFrame(r *bufio.Reader) (frame.Frame, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, err
	}

	var f frame.Frame
	var size int

	switch kind[0] {
	case frame.IDHandshake:
		f, size = &frame.Handshake{}, frame.HandshakeSize
	case frame.IDInit:
		f, size = &frame.Init{}, frame.InitSize
	case frame.IDShutdown:
		return &frame.Shutdown{}, nil
	case frame.IDOpenStream:
		f, size = &frame.OpenStream{}, frame.OpenStreamSize
	case frame.IDCloseStream:
		f, size = &frame.CloseStream{}, frame.CloseStreamSize
	case frame.IDDataHeader:
		f, size = &frame.DataHeader{}, frame.DataHeaderSize
	case frame.IDData:
		return c.readData(r)
	case frame.IDRaw:
		return c.readRaw(r)
	default:
		return nil, ErrUnknownFrame
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	if err := f.Read(buffer.From(body)); err != nil {
		return nil, err
	}

	return f, nil
}

// readData reads the fixed head of a data frame to learn the payload length,
// then the payload itself.
func (c *Channel) readData(r *bufio.Reader) (frame.Frame, error) {
	head := make([]byte, frame.DataHeadSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	b := buffer.From(head)

	mid, err := b.ReadUint64(byteorder.LittleEndian)
	if err != nil {
		return nil, err
	}

	start, err := b.ReadUint64(byteorder.LittleEndian)
	if err != nil {
		return nil, err
	}

	length, err := b.ReadUint16(byteorder.LittleEndian)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &frame.Data{Mid: protocol.Mid(mid), Start: start, Payload: payload}, nil
}

// readRaw reads the length-prefixed payload of a raw frame. The payload is
// consumed even when raw frames are disabled so that the byte stream stays
// in sync; the handler decides whether to reject it.
func (c *Channel) readRaw(r *bufio.Reader) (frame.Frame, error) {
	head := make([]byte, frame.RawHeadSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	length, err := buffer.From(head).ReadUint16(byteorder.LittleEndian)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &frame.Raw{Payload: payload}, nil
}

// handleFrame routes one fully read frame through the state machine.
func (c *Channel) handleFrame(f frame.Frame) {
	switch c.State() {
	case AwaitingHandshake:
		hs, ok := f.(*frame.Handshake)
		if !ok {
			c.log.Warn("expected handshake", zap.String("frame", frame.Name(f.ID())))
			c.teardown(ErrProtocolMismatch)
			return
		}
		c.handleHandshake(hs)
	case AwaitingInit:
		in, ok := f.(*frame.Init)
		if !ok {
			c.log.Warn("expected init", zap.String("frame", frame.Name(f.ID())))
			c.teardown(ErrProtocolMismatch)
			return
		}
		c.handleInit(in)
	case Established, ShuttingDown:
		switch fr := f.(type) {
		case *frame.Handshake, *frame.Init:
			c.violation("handshake frame on established channel", zap.String("frame", frame.Name(f.ID())))
		case *frame.OpenStream:
			c.handleOpenStream(fr)
		case *frame.CloseStream:
			c.handleCloseStream(fr)
		case *frame.DataHeader:
			c.handleDataHeader(fr)
		case *frame.Data:
			c.handleData(fr)
		case *frame.Shutdown:
			_ = c.beginShutdown()
		case *frame.Raw:
			c.handleRaw(fr)
		}
	case Closed:
	}
}

// handleHandshake checks the peer's protocol identity. On mismatch the
// channel closes without sending any further frame; in particular the init
// frame with the local identity is never revealed.
func (c *Channel) handleHandshake(hs *frame.Handshake) {
	compatible := hs.Magic == protocol.Magic &&
		hs.Version[0] == protocol.Version[0] &&
		hs.Version[1] == protocol.Version[1] &&
		(!c.cfg.StrictPatch || hs.Version[2] == protocol.Version[2])

	if !compatible {
		c.log.Warn("protocol mismatch",
			zap.Binary("magic", hs.Magic[:]),
			zap.Uint32s("version", hs.Version[:]))
		c.teardown(ErrProtocolMismatch)
		return
	}

	c.setState(AwaitingInit)

	_ = c.enqueue(queuedFrame{f: &frame.Init{
		Pid:    c.localPid,
		Secret: c.localSecret,
	}})
}

// handleInit binds the channel to the peer's participant identity. The
// responder additionally authenticates resumption attempts against the
// secret recorded on first contact.
func (c *Channel) handleInit(in *frame.Init) {
	if c.secrets != nil {
		if err := c.secrets.verify(in.Pid, in.Secret); err != nil {
			c.log.Warn("authentication failed", zap.Stringer("peer", in.Pid))
			c.teardown(ErrAuthenticationFailure)
			return
		}
	}

	c.remotePid = in.Pid
	c.remoteSecret = in.Secret
	c.setState(Established)

	c.log.Debug("channel established", zap.Stringer("peer", in.Pid))
	close(c.established)
}

func (c *Channel) handleOpenStream(fr *frame.OpenStream) {
	// The peer must allocate from its own half of the id space: the
	// responder's half when we initiated the connection, ours otherwise.
	remoteHalf := fr.Sid >= protocol.SidOffsetResponder
	if remoteHalf != c.initiator {
		c.violation("open stream from wrong sid half", zap.Uint64("sid", uint64(fr.Sid)))
		return
	}

	c.mu.Lock()
	if c.state == ShuttingDown {
		c.mu.Unlock()
		// The peer may have opened before it saw our shutdown frame; that
		// race is not its fault.
		c.log.Debug("open stream during shutdown dropped", zap.Uint64("sid", uint64(fr.Sid)))
		return
	}
	if _, ok := c.streams[fr.Sid]; ok {
		c.mu.Unlock()
		c.violation("open stream with duplicate sid", zap.Uint64("sid", uint64(fr.Sid)))
		return
	}
	if _, ok := c.tombstones[fr.Sid]; ok {
		c.mu.Unlock()
		c.violation("open stream reusing closed sid", zap.Uint64("sid", uint64(fr.Sid)))
		return
	}

	s := newStream(c, fr.Sid, fr.Prio, fr.Promises.Truncated())
	c.streams[fr.Sid] = s
	c.mu.Unlock()

	select {
	case c.opened <- s:
	case <-c.done:
	}
}

func (c *Channel) handleCloseStream(fr *frame.CloseStream) {
	c.mu.Lock()
	s, ok := c.streams[fr.Sid]
	if !ok {
		_, dead := c.tombstones[fr.Sid]
		c.mu.Unlock()
		if dead {
			// Both sides closed concurrently, nothing left to do.
			return
		}
		c.violation("close of unknown stream", zap.Uint64("sid", uint64(fr.Sid)))
		return
	}

	delete(c.streams, fr.Sid)
	c.tombstones[fr.Sid] = struct{}{}
	c.discardInflight(fr.Sid)
	c.mu.Unlock()

	s.markClosed()
	close(s.incoming)
}

func (c *Channel) handleDataHeader(fr *frame.DataHeader) {
	c.mu.Lock()
	s, ok := c.streams[fr.Sid]
	if !ok {
		_, dead := c.tombstones[fr.Sid]
		c.mu.Unlock()
		if !dead {
			c.violation("data header for unknown stream", zap.Uint64("sid", uint64(fr.Sid)))
		}
		return
	}

	if _, ok := c.inflight[fr.Mid]; ok {
		c.mu.Unlock()
		c.violation("duplicate data header", zap.Uint64("mid", uint64(fr.Mid)))
		return
	}

	window := protocol.CreateMessageWindow(fr.Length)
	c.inflight[fr.Mid] = &inflightMessage{sid: fr.Sid, window: window}
	c.mu.Unlock()

	if s.release != nil {
		s.release.Expect(fr.Mid)
	}

	// A zero-length message completes with its header.
	if window.Complete() {
		c.completeMessage(fr.Mid)
	}
}

func (c *Channel) handleData(fr *frame.Data) {
	c.mu.Lock()
	msg, ok := c.inflight[fr.Mid]
	c.mu.Unlock()

	if !ok {
		// Expected when a close raced ahead of in-flight fragments; the
		// fragment is stale, not an error.
		c.log.Debug("stale data fragment", zap.Uint64("mid", uint64(fr.Mid)))
		return
	}

	if _, err := msg.window.Receive(fr.Start, fr.Payload); err != nil {
		c.violation("rejected data fragment",
			zap.Uint64("mid", uint64(fr.Mid)),
			zap.Uint64("start", fr.Start),
			zap.Error(err))
		return
	}

	if msg.window.Complete() {
		c.completeMessage(fr.Mid)
	}
}

// completeMessage runs the inbound transforms on a fully reassembled message
// and releases it to the stream, honoring the ordered promise.
func (c *Channel) completeMessage(mid protocol.Mid) {
	c.mu.Lock()
	msg, ok := c.inflight[mid]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, mid)
	s, live := c.streams[msg.sid]
	c.mu.Unlock()

	if !live {
		return
	}

	out, err := s.transformer.Inbound(mid, msg.window.Payload())
	if err != nil {
		c.log.Warn("message discarded after reassembly",
			zap.Uint64("sid", uint64(msg.sid)),
			zap.Uint64("mid", uint64(mid)),
			zap.Error(err))

		if s.promises.GuaranteedDelivery() {
			// No retransmission frame exists on the wire; surfacing the
			// failure lets the application resubmit.
			select {
			case s.failures <- err:
			default:
			}
		}

		// The discarded message must not hold back later messages of an
		// ordered stream.
		if s.release != nil {
			for _, ready := range s.release.Discard(mid) {
				c.deliver(s, ready)
			}
		}
		return
	}

	if s.release == nil {
		c.deliver(s, out)
		return
	}

	for _, ready := range s.release.Push(mid, out) {
		c.deliver(s, ready)
	}
}

func (c *Channel) deliver(s *Stream, payload []byte) {
	select {
	case s.incoming <- payload:
	case <-s.done:
	case <-c.done:
	}
}

func (c *Channel) handleRaw(fr *frame.Raw) {
	if !c.cfg.AllowRaw {
		c.violation("raw frame while raw frames are disabled")
		return
	}

	select {
	case c.raw <- fr.Payload:
	case <-c.done:
	}
}

// finalize runs exactly once when the reader exits. It closes the remaining
// streams, reports the channel to its participant and guarantees a single
// lost-channel event per channel.
func (c *Channel) finalize() {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = map[protocol.Sid]*Stream{}
	c.inflight = map[protocol.Mid]*inflightMessage{}
	c.mu.Unlock()

	for _, s := range streams {
		s.markClosed()
		close(s.incoming)
	}
	close(c.opened)

	// Report to the bound participant, at most once per channel. When the
	// channel dies before attach stores the binding, attach performs the
	// report instead; the swap must stay unconsumed until then.
	if p := c.part.Load(); p != nil {
		if c.lostReported.CompareAndSwap(false, true) {
			p.channelClosed(c, c.err)
		}
	} else if c.err != nil {
		c.log.Warn("channel lost before binding", zap.Error(c.err))
	}
}

// writeLoop is the sole writer of the connection. It feeds queued frames
// through the priority scheduler and, on shutdown, flushes everything before
// writing the final shutdown frame.
func (c *Channel) writeLoop() {
	sched := protocol.CreateScheduler[queuedFrame]()
	wbuf := buffer.New(c.cfg.MaxFramePayload + frame.DataHeadSize + 1)
	closing := false

	for {
		if sched.Len() == 0 && !closing {
			select {
			case qf := <-c.send:
				c.admit(sched, qf, &closing)
			case <-c.done:
				return
			}
		}

		// Drain whatever else is already queued so that the scheduler can
		// order frames that became ready together.
		for drained := false; !drained; {
			select {
			case qf := <-c.send:
				c.admit(sched, qf, &closing)
			default:
				drained = true
			}
		}

		for {
			qf, ok := sched.Pop()
			if !ok {
				break
			}

			if err := c.writeFrame(wbuf, qf.f); err != nil {
				if !c.graceful.Load() {
					c.log.Warn("transport write failed", zap.Error(err))
				}
				c.teardown(ErrChannelLost)
				return
			}
		}

		if closing && len(c.send) == 0 {
			if err := c.writeFrame(wbuf, &frame.Shutdown{}); err != nil {
				c.teardown(ErrChannelLost)
				return
			}
			c.teardown(nil)
			return
		}
	}
}

// admit moves one queued frame into the scheduler. A shutdown frame is not
// scheduled: it flips the writer into flush-and-close mode instead so that
// it always goes out last.
func (c *Channel) admit(sched *protocol.Scheduler[queuedFrame], qf queuedFrame, closing *bool) {
	if _, ok := qf.f.(*frame.Shutdown); ok {
		*closing = true
		return
	}
	sched.Push(qf.prio, qf)
}

func (c *Channel) writeFrame(wbuf *buffer.Buffer, f frame.Frame) error {
	wbuf.Reset()

	if err := wbuf.WriteUint8(f.ID()); err != nil {
		return err
	}

	if err := f.Write(wbuf); err != nil {
		return err
	}

	_, err := c.conn.Write(wbuf.Bytes())
	return err
}
