// Package transport implements the cluster's peer wire protocol: a
// length-prefixed, HMAC-authenticated TCP session per peer, framed per
// spec.md §6. It is the substrate every other component (gossip,
// election, dispatcher) sends and receives frames over.
package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/security"
	"github.com/rs/zerolog"
)

// Handler is invoked for every frame received on any session, after the
// handshake has completed. On inbound sessions fromNode is the node id
// the peer presented in the handshake; frames read back on an outbound
// session carry the zero NodeID.
type Handler func(fromNode clustertypes.NodeID, f Frame)

// Config configures a Transport.
type Config struct {
	ListenAddr      string
	ClusterSecrets  *security.ClusterSecrets
	SelfNodeID      clustertypes.NodeID
	SelfIncarnation func() uint64
	SendTimeout     time.Duration
	DialTimeout     time.Duration
	BackoffMin      time.Duration
	BackoffMax      time.Duration
}

// Transport owns the listening socket and one outbound session per known
// peer endpoint, redialing lazily with exponential backoff.
type Transport struct {
	cfg     Config
	logger  zerolog.Logger
	handler Handler

	mu       sync.Mutex
	sessions map[string]*session // keyed by endpoint string
	closed   bool

	listener net.Listener
}

// New constructs a Transport. Call Serve to start accepting inbound
// connections and Send/Broadcast to talk to peers.
func New(cfg Config, handler Handler) *Transport {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 200 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Transport{
		cfg:      cfg,
		logger:   log.WithComponent("transport").With().Str("peer_id", cfg.SelfNodeID.String()).Logger(),
		handler:  handler,
		sessions: make(map[string]*session),
	}
}

// Serve accepts inbound connections until ctx is cancelled or Close is
// called. It blocks; callers run it in its own goroutine.
func (t *Transport) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.ListenAddr, err)
	}
	t.mu.Lock()
	t.listener = lis
	t.mu.Unlock()

	t.logger.Info().Str("addr", t.cfg.ListenAddr).Msg("transport listening")

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go t.serveInbound(conn)
	}
}

// Close tears down the listener and every outbound session.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.listener != nil {
		t.listener.Close()
	}
	for _, s := range t.sessions {
		s.close()
	}
	return nil
}

func (t *Transport) serveInbound(conn net.Conn) {
	defer conn.Close()

	peerID, err := t.serverHandshake(conn)
	if err != nil {
		t.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("handshake failed")
		return
	}

	r := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(r)
		if err != nil {
			t.logger.Debug().Err(err).Str("peer_id", peerID.String()).Msg("inbound session closed")
			return
		}
		if t.handler != nil {
			t.handler(peerID, f)
		}
	}
}

// serverHandshake runs the server side of the HMAC challenge/response:
// send a random 32-byte challenge, expect HMAC(cluster_secret,
// challenge) || node_id || incarnation back.
func (t *Transport) serverHandshake(conn net.Conn) (clustertypes.NodeID, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return clustertypes.NodeID{}, fmt.Errorf("generate challenge: %w", err)
	}
	if err := WriteFrame(conn, Frame{Type: MsgHeartbeat, Body: challenge}); err != nil {
		return clustertypes.NodeID{}, fmt.Errorf("send challenge: %w", err)
	}

	r := bufio.NewReader(conn)
	f, err := ReadFrame(r)
	if err != nil {
		return clustertypes.NodeID{}, fmt.Errorf("read handshake response: %w", err)
	}

	dec := NewDecoder(f.Body)
	response := dec.GetBytes()
	nodeIDStr := dec.GetString()
	_ = dec.GetUint64() // incarnation, informational only at handshake time
	if dec.Err() != nil {
		return clustertypes.NodeID{}, fmt.Errorf("decode handshake response: %w", dec.Err())
	}

	if !t.cfg.ClusterSecrets.VerifyHandshake(challenge, response) {
		return clustertypes.NodeID{}, ErrUnauthenticated
	}

	peerID, err := clustertypes.ParseNodeID(nodeIDStr)
	if err != nil {
		return clustertypes.NodeID{}, fmt.Errorf("parse peer node id: %w", err)
	}
	return peerID, nil
}

// clientHandshake runs the client side: read the challenge, reply with
// the HMAC response plus our identity.
func (t *Transport) clientHandshake(conn net.Conn) error {
	r := bufio.NewReader(conn)
	f, err := ReadFrame(r)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	response := t.cfg.ClusterSecrets.HandshakeResponse(f.Body)

	var incarnation uint64
	if t.cfg.SelfIncarnation != nil {
		incarnation = t.cfg.SelfIncarnation()
	}

	enc := NewEncoder().PutBytes(response).PutString(t.cfg.SelfNodeID.String()).PutUint64(incarnation)
	if err := WriteFrame(conn, Frame{Type: MsgHeartbeatAck, Body: enc.Bytes()}); err != nil {
		return fmt.Errorf("send handshake response: %w", err)
	}
	return nil
}

// Send delivers one frame to the peer reachable at endpoint, dialing (or
// redialing) a session as needed. It returns ErrPeerUnreachable if the
// frame could not be delivered within SendTimeout.
func (t *Transport) Send(endpoint clustertypes.Endpoint, f Frame) error {
	s := t.sessionFor(endpoint)
	if err := s.send(f, t.cfg.SendTimeout); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrPeerUnreachable, endpoint, err)
	}
	return nil
}

func (t *Transport) sessionFor(endpoint clustertypes.Endpoint) *session {
	key := endpoint.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[key]; ok {
		return s
	}
	s := newSession(t, endpoint)
	t.sessions[key] = s
	return s
}
