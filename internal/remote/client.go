// Package remote reaches a secure element served by platformd over gRPC.
package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/wire"
)

// DefaultTimeout bounds each call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// maxRandomChunk matches the server's per-call cap.
const maxRandomChunk = 64 * 1024

var ErrUnavailable = errors.New("remote secure element unavailable")

type Options struct {
	// Token is sent as a bearer token on every call.
	Token   string
	Timeout time.Duration
	// TLS secures the channel; nil dials in plaintext.
	TLS         *tls.Config
	DialOptions []grpc.DialOption
}

// Client implements hsm.Provider against a remote SecureElement service.
type Client struct {
	cc      grpc.ClientConnInterface
	se      *wire.SecureElementClient
	conn    *grpc.ClientConn
	timeout time.Duration
}

var (
	_ hsm.Provider = (*Client)(nil)
	_ hsm.Locker   = (*Client)(nil)
)

// Dial creates a client for target. The connection is established lazily
// on first use.
func Dial(target string, opts Options) (*Client, error) {
	creds := insecure.NewCredentials()
	if opts.TLS != nil {
		creds = credentials.NewTLS(opts.TLS)
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.Token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(bearerToken{
			token:      opts.Token,
			requireTLS: opts.TLS != nil,
		}))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, target, err)
	}

	c := New(conn, opts.Timeout)
	c.conn = conn
	return c, nil
}

// New wraps an existing connection.
func New(cc grpc.ClientConnInterface, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{cc: cc, se: wire.NewSecureElementClient(cc), timeout: timeout}
}

// Storage returns a storage.Backend served over the same connection.
func (c *Client) Storage() *Storage {
	return NewStorage(c.cc, c.timeout)
}

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *Client) GenerateKey(curve crypto.Curve) (string, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	resp, err := c.se.GenerateKey(ctx, wrapperspb.String(curve.String()))
	if err != nil {
		return "", fromStatus(err)
	}
	info, err := wire.KeyInfoFromStruct(resp)
	if err != nil {
		return "", err
	}
	return info.Slot, nil
}

func (c *Client) KeyInfo(slot string) (hsm.KeyInfo, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	resp, err := c.se.KeyInfo(ctx, wrapperspb.String(slot))
	if err != nil {
		return hsm.KeyInfo{}, fromStatus(err)
	}
	return wire.KeyInfoFromStruct(resp)
}

func (c *Client) Sign(slot string, digest []byte) ([]byte, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	resp, err := c.se.Sign(ctx, wire.SlotSignRequest(slot, digest))
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.GetValue(), nil
}

// Random fills p, splitting large requests into several calls.
func (c *Client) Random(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), maxRandomChunk)
		if err := c.randomChunk(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (c *Client) randomChunk(p []byte) error {
	ctx, cancel := c.ctx()
	defer cancel()

	resp, err := c.se.Random(ctx, wrapperspb.UInt32(uint32(len(p))))
	if err != nil {
		return fromStatus(err)
	}
	if len(resp.GetValue()) != len(p) {
		return fmt.Errorf("%w: short random response (%d of %d bytes)", ErrUnavailable, len(resp.GetValue()), len(p))
	}
	copy(p, resp.GetValue())
	return nil
}

func (c *Client) DeleteKey(slot string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if _, err := c.se.DeleteKey(ctx, wrapperspb.String(slot)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Lock locks slot on the remote secure element.
func (c *Client) Lock(slot string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if _, err := c.se.LockSlot(ctx, wrapperspb.String(slot)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Unlock(slot string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if _, err := c.se.UnlockSlot(ctx, wrapperspb.String(slot)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// fromStatus maps gRPC status codes back onto hsm sentinels so callers
// cannot tell a remote secure element from a local one.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", hsm.ErrSlotNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", hsm.ErrSlotLocked, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", hsm.ErrDigestLength, st.Message())
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", crypto.ErrUnsupportedCurve, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, st.Code(), st.Message())
	default:
		return fmt.Errorf("remote secure element: %s: %s", st.Code(), st.Message())
	}
}

// bearerToken attaches "authorization: Bearer <token>" to each call.
type bearerToken struct {
	token      string
	requireTLS bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool { return b.requireTLS }
