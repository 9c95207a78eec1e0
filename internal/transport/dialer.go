package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/glinharesb/platform-go/internal/audit"
)

// Transport opens sessions to remote peers.
type Transport interface {
	Connect(address string) (*Session, error)
	// ConnectContext dials under ctx, so a deadline bounds the connect.
	ConnectContext(ctx context.Context, address string) (*Session, error)
}

// Dialer opens TCP sessions. The zero value dials without a timeout and
// uses MaxSegment.
type Dialer struct {
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	// IOTimeout bounds each Send and Receive when positive.
	IOTimeout  time.Duration
	MaxSegment int
	Audit      *audit.Logger
}

// Connect dials address ("host:port"). On failure no session is returned.
func (d *Dialer) Connect(address string) (*Session, error) {
	return d.ConnectContext(context.Background(), address)
}

func (d *Dialer) ConnectContext(ctx context.Context, address string) (*Session, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
		d.Audit.Result("Connect", address, err, nil)
		return nil, err
	}

	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
		slog.Warn("connect failed", "address", address, "error", err)
		d.Audit.Result("Connect", address, err, nil)
		return nil, err
	}

	maxSegment := d.MaxSegment
	if maxSegment <= 0 || maxSegment > MaxSegment {
		maxSegment = MaxSegment
	}

	s := &Session{
		id:               uuid.NewString(),
		remote:           conn.RemoteAddr().String(),
		handshakeTimeout: d.HandshakeTimeout,
		ioTimeout:        d.IOTimeout,
		maxSegment:       maxSegment,
		audit:            d.Audit,
		state:            StateConnected,
		raw:              conn,
	}

	slog.Debug("connected", "session", s.id, "address", address, "remote", s.remote)
	d.Audit.Log("Connect", s.id, audit.StatusOK, s.remote, map[string]string{"address": address})
	return s, nil
}
