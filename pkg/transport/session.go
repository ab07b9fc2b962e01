package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
)

// session is one outbound logical channel to a peer. It lazily dials,
// redials with exponential backoff on failure, and serializes sends
// behind a mutex since a single TCP connection carries the whole
// channel's traffic.
type session struct {
	t        *Transport
	endpoint clustertypes.Endpoint

	mu      sync.Mutex
	conn    net.Conn
	backoff time.Duration
	nextTry time.Time
	closed  bool
}

func newSession(t *Transport, endpoint clustertypes.Endpoint) *session {
	return &session{
		t:        t,
		endpoint: endpoint,
		backoff:  t.cfg.BackoffMin,
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *session) send(f Frame, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.conn == nil {
		if time.Now().Before(s.nextTry) {
			return fmt.Errorf("endpoint in backoff until %s", s.nextTry.Format(time.RFC3339))
		}
		conn, err := s.dialLocked()
		if err != nil {
			s.scheduleRetryLocked()
			return err
		}
		s.conn = conn
		s.backoff = s.t.cfg.BackoffMin
	}

	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := WriteFrame(s.conn, f); err != nil {
		s.conn.Close()
		s.conn = nil
		s.scheduleRetryLocked()
		return err
	}
	return nil
}

func (s *session) scheduleRetryLocked() {
	s.nextTry = time.Now().Add(s.backoff)
	s.backoff *= 2
	if s.backoff > s.t.cfg.BackoffMax {
		s.backoff = s.t.cfg.BackoffMax
	}
}

func (s *session) dialLocked() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.t.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.endpoint, err)
	}

	if err := s.t.clientHandshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", s.endpoint, err)
	}

	go s.readLoop(conn)

	return conn, nil
}

// readLoop drains frames the peer sends back over our own outbound
// connection (acks, forward replies) and dispatches them to the shared
// handler with a zero fromNode: the client side of the handshake never
// learns the peer's node id.
func (s *session) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(r)
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}
		if s.t.handler != nil {
			s.t.handler(clustertypes.NodeID{}, f)
		}
	}
}
