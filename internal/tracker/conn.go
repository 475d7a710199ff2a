package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/protocol"
)

const (
	// DefaultTimeout bounds the wait for a tracker's response line.
	DefaultTimeout = 3 * time.Second

	// DefaultConnectTimeout bounds a dial to a tracker's configured address.
	DefaultConnectTimeout = 250 * time.Millisecond

	// DefaultPreferredTimeout bounds a dial to a preferred-IP override.
	DefaultPreferredTimeout = 100 * time.Millisecond

	// maxAttempts bounds how often one request is sent. The second attempt
	// only happens when a reused socket turned out to be closed by the peer.
	maxAttempts = 2
)

// DialFunc opens a TCP connection. The context carries the per-attempt timeout.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Conn is a client connection to the tracker pool. It holds at most one open
// socket, reuses it across requests, and reconnects through its HostPool when
// the socket fails.
//
// A Conn is single-owner: do not call Request from several goroutines at once.
// Use one Conn per goroutine, all sharing the same HostPool.
type Conn struct {
	pool             *HostPool
	dial             DialFunc
	log              logrus.FieldLogger
	sock             net.Conn      // Cached socket, nil when none
	reader           *bufio.Reader // Line reader over sock
	last             Address       // Tracker sock is connected to
	connected        bool          // Whether last is set
	timeout          time.Duration // Response wait bound
	connectTimeout   time.Duration // Dial bound for configured addresses
	preferredTimeout time.Duration // Dial bound for preferred overrides
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithTimeout sets the response read timeout.
func WithTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConnectTimeout sets the dial timeout for configured addresses.
func WithConnectTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithPreferredTimeout sets the dial timeout for preferred-IP overrides.
func WithPreferredTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.preferredTimeout = d
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) ConnOption {
	return func(c *Conn) { c.dial = dial }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logrus.FieldLogger) ConnOption {
	return func(c *Conn) { c.log = l }
}

// NewConn creates a connection manager over pool. No socket is opened until
// the first Request.
func NewConn(pool *HostPool, opts ...ConnOption) *Conn {
	var d net.Dialer
	c := &Conn{
		pool:             pool,
		dial:             d.DialContext,
		log:              logrus.StandardLogger(),
		timeout:          DefaultTimeout,
		connectTimeout:   DefaultConnectTimeout,
		preferredTimeout: DefaultPreferredTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pool returns the host pool this connection selects from.
func (c *Conn) Pool() *HostPool {
	return c.pool
}

// LastTracker returns the tracker the most recent connection went to.
func (c *Conn) LastTracker() (Address, bool) {
	return c.last, c.connected
}

// Request sends cmd with args and returns the decoded response.
//
// Errors:
//   - *UnavailableError when no tracker accepts a connection
//   - *protocol.CommandError when the tracker answers ERR
//   - *protocol.ProtocolError when the answer is malformed or empty
//   - an error wrapping ErrTimeout when no answer arrives in time
//
// Implementation:
//  1. Send on the cached socket without probing it; on a send error discard it
//  2. Otherwise connect through the pool, send, and cache the new socket
//  3. Read one line under the read deadline and decode it
//  4. If a reused socket was closed by the tracker before answering, resend
//     once on a fresh connection
func (c *Conn) Request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := protocol.Encode(cmd, args)

	for attempt := 1; ; attempt++ {
		reused := false
		if c.sock != nil {
			if err := c.send(ctx, req); err != nil {
				c.log.WithFields(logrus.Fields{"tracker": c.last.String(), "cmd": cmd}).
					Debugf("cached socket send failed, reconnecting: %v", err)
				c.discard()
			} else {
				reused = true
			}
		}

		if !reused {
			if err := c.connect(ctx); err != nil {
				return nil, err
			}
			if err := c.send(ctx, req); err != nil {
				c.discard()
				return nil, fmt.Errorf("couldn't send %s to tracker %s: %w", cmd, c.last, err)
			}
		}
		c.log.WithFields(logrus.Fields{"tracker": c.last.String(), "cmd": cmd, "reused": reused}).Debug("tracker request sent")

		line, err := c.readLine(ctx)
		if err != nil {
			c.discard()
			if isTimeout(err) {
				return nil, fmt.Errorf("tracker %s never answered %s: %w", c.last, cmd, ErrTimeout)
			}
			if reused && attempt < maxAttempts && isStale(err) {
				c.log.WithFields(logrus.Fields{"tracker": c.last.String(), "cmd": cmd}).
					Debugf("cached socket closed by tracker, resending: %v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, &protocol.ProtocolError{Line: line, Reason: "connection closed before response"}
			}
			return nil, fmt.Errorf("reading %s response from tracker %s: %w", cmd, c.last, err)
		}

		res, err := protocol.Decode(line)
		if err != nil {
			var cmdErr *protocol.CommandError
			if !errors.As(err, &cmdErr) {
				c.discard()
			}
			c.log.WithFields(logrus.Fields{"tracker": c.last.String(), "cmd": cmd}).Debugf("tracker error: %v", err)
			return nil, err
		}
		return res, nil
	}
}

// Close closes the cached socket, if any.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	c.reader = nil
	return err
}

// connect walks the pool's candidates and caches the first socket that opens.
// Hosts that fail every target are marked dead.
func (c *Conn) connect(ctx context.Context) error {
	candidates := c.pool.Candidates()
	var errs []error
	for _, host := range candidates {
		sock, target, err := c.dialHost(ctx, host)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				// The caller gave up; the host did not fail.
				break
			}
			c.pool.MarkDead(host, c.pool.clock())
			c.log.WithField("tracker", host.String()).Debugf("marking tracker dead: %v", err)
			continue
		}
		c.pool.MarkAlive(host)
		c.sock = sock
		c.reader = bufio.NewReader(sock)
		c.last = target
		c.connected = true
		return nil
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return &UnavailableError{Hosts: c.pool.Hosts(), Errs: errs}
}

// dialHost tries the targets of one host in order, the preferred override first.
func (c *Conn) dialHost(ctx context.Context, host Address) (net.Conn, Address, error) {
	var lastErr error
	for _, target := range c.pool.ConnectTargets(host) {
		timeout := c.connectTimeout
		if target.Preferred {
			timeout = c.preferredTimeout
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		sock, err := c.dial(dctx, "tcp", target.Addr.String())
		cancel()
		if err == nil {
			if target.Preferred {
				c.log.WithField("tracker", host.String()).Debugf("using preferred ip %s", target.Addr)
			}
			return sock, target.Addr, nil
		}
		lastErr = fmt.Errorf("connect to %s: %w", target.Addr, err)
		if target.Preferred {
			c.log.WithField("tracker", host.String()).Debugf("failed connect to preferred host %s", target.Addr)
		}
	}
	return nil, Address{}, lastErr
}

func (c *Conn) send(ctx context.Context, req string) error {
	if err := c.sock.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	n, err := io.WriteString(c.sock, req)
	if err != nil {
		return err
	}
	if n != len(req) {
		return fmt.Errorf("short write (%d of %d bytes)", n, len(req))
	}
	return nil
}

func (c *Conn) readLine(ctx context.Context) (string, error) {
	if err := c.sock.SetReadDeadline(c.deadline(ctx)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return line, err
	}
	return line, nil
}

// deadline is now+timeout, tightened by the context's deadline.
func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (c *Conn) discard() {
	if c.sock != nil {
		_ = c.sock.Close()
	}
	c.sock = nil
	c.reader = nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isStale reports errors that mean the peer closed an idle socket.
func isStale(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
