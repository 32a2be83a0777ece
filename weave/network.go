package weave

import (
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gamevidea/weave/internal/protocol"
)

// Network is the local endpoint of communication. It owns the local
// participant identity, accepts and dials physical connections, groups the
// resulting channels by remote participant and hands out participants to
// the application.
//
// The table of known participant secrets used to authenticate resumption
// attempts lives here: it is created with the network and cleared when the
// network closes.
type Network struct {
	pid    protocol.Pid
	secret [protocol.SecretSize]byte
	cfg    Config
	log    *zap.Logger

	secrets *secretStore
	nextCid atomic.Uint64

	mu           sync.Mutex
	participants map[protocol.Pid]*Participant
	listeners    []net.Listener

	accept chan *Participant
	done   chan struct{}
	once   sync.Once
}

// NewNetwork creates a network with a fresh random participant identity.
func NewNetwork(cfg Config) (*Network, error) {
	cfg = cfg.withDefaults()

	var secret [protocol.SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, errors.Wrap(err, "generate secret")
	}

	pid := protocol.NewPid()

	return &Network{
		pid:          pid,
		secret:       secret,
		cfg:          cfg,
		log:          cfg.Logger.With(zap.Stringer("pid", pid)),
		secrets:      newSecretStore(),
		participants: map[protocol.Pid]*Participant{},
		accept:       make(chan *Participant, 16),
		done:         make(chan struct{}),
	}, nil
}

// Pid returns the local participant identity.
func (n *Network) Pid() protocol.Pid {
	return n.pid
}

// Listen accepts TCP connections on the given address and drives each
// through the handshake as the responder.
func (n *Network) Listen(addr string) error {
	ls, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	n.mu.Lock()
	n.listeners = append(n.listeners, ls)
	n.mu.Unlock()

	go n.acceptLoop(ls)
	return nil
}

// Addr returns the address of the most recently opened listener, useful
// when listening on an ephemeral port.
func (n *Network) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.listeners) == 0 {
		return nil
	}
	return n.listeners[len(n.listeners)-1].Addr()
}

// Accept blocks until a remote participant connects for the first time.
func (n *Network) Accept() (*Participant, error) {
	select {
	case p := <-n.accept:
		return p, nil
	case <-n.done:
		return nil, ErrNetworkClosed
	}
}

// Connect dials a TCP address and adds the resulting connection as a
// channel, acting as the connection initiator.
func (n *Network) Connect(addr string) (*Participant, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	return n.AddChannel(conn, true)
}

// AddChannel runs the handshake over an already established reliable byte
// stream and binds the channel to its remote participant. The transport
// only has to be an ordered byte channel; TCP is just the built-in
// convenience.
func (n *Network) AddChannel(conn io.ReadWriteCloser, initiator bool) (*Participant, error) {
	cid := protocol.Cid(n.nextCid.Add(1))

	secrets := n.secrets
	if initiator {
		// Resumption is verified by the responder.
		secrets = nil
	}

	c := newChannel(cid, conn, n.cfg, n.pid, n.secret, initiator, secrets)
	c.run()

	select {
	case <-c.established:
	case <-c.done:
		return nil, c.Err()
	case <-n.done:
		c.teardown(ErrNetworkClosed)
		return nil, ErrNetworkClosed
	}

	p, fresh := n.bind(c.RemotePid())
	p.attach(c)

	if fresh && !initiator {
		select {
		case n.accept <- p:
		case <-n.done:
		}
	}

	return p, nil
}

// Participants returns the currently known live participants.
func (n *Network) Participants() []*Participant {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*Participant, 0, len(n.participants))
	for _, p := range n.participants {
		out = append(out, p)
	}
	return out
}

// Close closes all listeners, shuts down every participant gracefully and
// clears the known-secrets table.
func (n *Network) Close() error {
	n.once.Do(func() {
		close(n.done)
	})

	n.mu.Lock()
	listeners := n.listeners
	n.listeners = nil
	participants := make([]*Participant, 0, len(n.participants))
	for _, p := range n.participants {
		participants = append(participants, p)
	}
	n.mu.Unlock()

	for _, ls := range listeners {
		_ = ls.Close()
	}
	for _, p := range participants {
		_ = p.Close()
	}

	n.secrets.clear()
	return nil
}

func (n *Network) acceptLoop(ls net.Listener) {
	for {
		conn, err := ls.Accept()
		if err != nil {
			select {
			case <-n.done:
			default:
				n.log.Warn("accept failed", zap.Error(err))
			}
			return
		}

		go func() {
			if _, err := n.AddChannel(conn, false); err != nil {
				n.log.Warn("inbound channel rejected", zap.Error(err))
			}
		}()
	}
}

// bind returns the participant for a remote pid, creating it on first
// contact. A participant that already tore down is replaced.
func (n *Network) bind(pid protocol.Pid) (*Participant, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.participants[pid]; ok {
		select {
		case <-p.done:
		default:
			return p, false
		}
	}

	p := newParticipant(pid, n.log)
	n.participants[pid] = p

	go func() {
		<-p.done
		n.mu.Lock()
		if n.participants[pid] == p {
			delete(n.participants, pid)
		}
		n.mu.Unlock()
	}()

	return p, true
}

// secretStore remembers the secret each participant presented on first
// contact so that later connections claiming the same identity can be
// authenticated. It is owned by the network and cleared on shutdown, never
// ambient process state.
type secretStore struct {
	mu    sync.Mutex
	known map[protocol.Pid][protocol.SecretSize]byte
}

func newSecretStore() *secretStore {
	return &secretStore{
		known: map[protocol.Pid][protocol.SecretSize]byte{},
	}
}

// verify records the secret on first contact and compares it afterwards.
func (s *secretStore) verify(pid protocol.Pid, secret [protocol.SecretSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded, ok := s.known[pid]
	if !ok {
		s.known[pid] = secret
		return nil
	}

	if recorded != secret {
		return ErrAuthenticationFailure
	}
	return nil
}

func (s *secretStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = map[protocol.Pid][protocol.SecretSize]byte{}
}
