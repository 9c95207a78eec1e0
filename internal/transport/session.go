package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/glinharesb/platform-go/internal/audit"
)

// MaxSegment is the largest plaintext a single Send moves, the TLS record
// payload limit.
const MaxSegment = 16 * 1024

type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateTLSEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateTLSEstablished:
		return "TLS_ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one byte-stream connection, optionally upgraded to TLS. Send
// and Receive share record state and must not be called concurrently; Close
// may be called from any goroutine.
type Session struct {
	id     string
	remote string

	handshakeTimeout time.Duration
	ioTimeout        time.Duration
	maxSegment       int
	audit            *audit.Logger

	mu    sync.Mutex
	state State
	raw   net.Conn
	tls   *tls.Conn
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.remote }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionState reports the negotiated TLS parameters once the handshake
// has completed.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTLSEstablished {
		return tls.ConnectionState{}, false
	}
	return s.tls.ConnectionState(), true
}

// EstablishTLS upgrades a connected session, verifying the peer chain
// against anchors and its certificate against hostName. On failure the
// underlying stream stays open and the session stays Connected.
func (s *Session) EstablishTLS(hostName string, anchors *TrustAnchors) error {
	ctx := context.Background()
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}
	return s.EstablishTLSContext(ctx, hostName, anchors)
}

func (s *Session) EstablishTLSContext(ctx context.Context, hostName string, anchors *TrustAnchors) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: establish tls on %s session", ErrTransport, state)
	}
	raw := s.raw
	s.mu.Unlock()

	if hostName == "" {
		return fmt.Errorf("%w: empty host name", ErrHandshakeFailed)
	}

	conn := tls.Client(raw, anchors.ClientConfig(hostName))

	err := conn.HandshakeContext(ctx)
	if err != nil {
		err = classifyHandshake(hostName, err)
		slog.Warn("tls handshake failed", "session", s.id, "remote", s.remote, "error", err)
		s.audit.Result("EstablishTLS", s.id, err, map[string]string{"host": hostName})
		return err
	}

	s.mu.Lock()
	if s.state != StateConnected {
		// closed concurrently during the handshake
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed during handshake", ErrTransport)
	}
	s.tls = conn
	s.state = StateTLSEstablished
	s.mu.Unlock()

	cs := conn.ConnectionState()
	slog.Debug("tls established", "session", s.id, "host", hostName,
		"version", tls.VersionName(cs.Version), "cipher", tls.CipherSuiteName(cs.CipherSuite))
	s.audit.Log("EstablishTLS", s.id, audit.StatusOK, s.remote, map[string]string{
		"host":    hostName,
		"version": tls.VersionName(cs.Version),
	})
	return nil
}

// stream returns the active endpoint for I/O.
func (s *Session) stream() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateTLSEstablished:
		return s.tls, nil
	case StateConnected:
		return s.raw, nil
	default:
		return nil, fmt.Errorf("%w: session is %s", ErrTransport, s.state)
	}
}

// Send writes at most one segment of p and returns the count written. The
// caller loops until p is drained; see WriteFull.
func (s *Session) Send(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	conn, err := s.stream()
	if err != nil {
		return 0, err
	}

	if len(p) > s.maxSegment {
		p = p[:s.maxSegment]
	}
	if s.ioTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			return 0, fmt.Errorf("%w: set write deadline: %v", ErrTransport, err)
		}
	}

	n, err := conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: send: %v", ErrTransport, err)
	}
	return n, nil
}

// Receive reads whatever is available up to len(p). It returns 0 and a nil
// error once the peer has shut down in an orderly way.
func (s *Session) Receive(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	conn, err := s.stream()
	if err != nil {
		return 0, err
	}

	if s.ioTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			return 0, fmt.Errorf("%w: set read deadline: %v", ErrTransport, err)
		}
	}

	n, err := conn.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: receive: %v", ErrTransport, err)
	}
	return n, nil
}

// Close releases the stream and any TLS state. Calls after the first
// return nil without touching the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateClosed
	conn := s.raw
	if s.tls != nil {
		conn = s.tls
	}
	s.raw, s.tls = nil, nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			if peerGone(cerr) {
				slog.Debug("close after peer shutdown", "session", s.id, "error", cerr)
			} else {
				err = fmt.Errorf("%w: close: %v", ErrTransport, cerr)
			}
		}
	}

	s.audit.Result("Close", s.id, err, map[string]string{"from": prev.String()})
	return err
}

// peerGone reports errors from sending close_notify to a peer that already
// reset or closed the stream.
func peerGone(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// WriteFull sends all of p, looping over partial writes.
func WriteFull(s *Session, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := s.Send(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, fmt.Errorf("%w: %v", ErrTransport, io.ErrShortWrite)
		}
	}
	return written, nil
}
