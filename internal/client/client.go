package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/protocol"
	"github.com/dreamware/mogile/internal/tracker"
	"github.com/dreamware/mogile/internal/transfer"
)

var (
	// ErrReadOnly is returned by mutating calls on a read-only client.
	ErrReadOnly = errors.New("operation on read-only client")

	// ErrNotFound is returned when a key has no readable paths.
	ErrNotFound = errors.New("key not found")
)

// Requester sends one tracker command. *tracker.Conn satisfies it.
type Requester interface {
	Request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error)
}

// Client is a domain-scoped handle on a tracker connection.
// Calls are serialized, so one Client may be shared by goroutines, but a
// Writer or RangeFile it returns belongs to the caller alone.
type Client struct {
	domain       string
	conn         Requester
	readonly     bool
	log          logrus.FieldLogger
	httpClient   *http.Client
	transferOpts []transfer.Option
	mu           sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithReadOnly makes every mutating call fail with ErrReadOnly.
func WithReadOnly(readonly bool) Option {
	return func(c *Client) { c.readonly = readonly }
}

// WithLogger sets the logger for the client and the transfers it starts.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient sets the client used for storage node requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTransferOptions adds options applied to every transfer the client starts.
func WithTransferOptions(opts ...transfer.Option) Option {
	return func(c *Client) { c.transferOpts = append(c.transferOpts, opts...) }
}

// New creates a client for domain over conn.
func New(domain string, conn Requester, opts ...Option) *Client {
	c := &Client{
		domain:     domain,
		conn:       conn,
		log:        logrus.StandardLogger(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Domain returns the domain every call is scoped to.
func (c *Client) Domain() string { return c.domain }

// ReadOnly reports whether mutating calls are refused.
func (c *Client) ReadOnly() bool { return c.readonly }

// LastTracker returns the tracker most recently talked to, when the
// underlying connection tracks it.
func (c *Client) LastTracker() (tracker.Address, bool) {
	lt, ok := c.conn.(interface {
		LastTracker() (tracker.Address, bool)
	})
	if !ok {
		return tracker.Address{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return lt.LastTracker()
}

func (c *Client) request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Request(ctx, cmd, args)
}

// committer lets transfers commit through the client's lock.
type committer struct{ c *Client }

func (s committer) Request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	return s.c.request(ctx, cmd, args)
}

func (c *Client) args(key string) protocol.Args {
	args := protocol.Args{}
	args.Set("domain", c.domain)
	args.Set("key", key)
	return args
}

func (c *Client) checkWritable() error {
	if c.readonly {
		return ErrReadOnly
	}
	return nil
}

func (c *Client) transferOptions(extra []transfer.Option) []transfer.Option {
	opts := make([]transfer.Option, 0, len(c.transferOpts)+len(extra)+2)
	opts = append(opts, transfer.WithLogger(c.log), transfer.WithHTTPClient(c.httpClient))
	opts = append(opts, c.transferOpts...)
	return append(opts, extra...)
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if _, err := c.request(ctx, "delete", c.args(key)); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Rename moves from to to within the domain.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	args := protocol.Args{}
	args.Set("domain", c.domain)
	args.Set("from_key", from)
	args.Set("to_key", to)
	if _, err := c.request(ctx, "rename", args); err != nil {
		return fmt.Errorf("rename %q to %q: %w", from, to, err)
	}
	return nil
}

// ListKeys returns up to limit keys starting with prefix and sorting after
// after, plus the cursor for the next page. A limit of 0 leaves the page size
// to the tracker. No matches is an empty result, not an error.
func (c *Client) ListKeys(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	args := protocol.Args{}
	args.Set("domain", c.domain)
	args.Set("prefix", prefix)
	args.Set("after", after)
	args.SetInt("limit", int64(limit))

	res, err := c.request(ctx, "list_keys", args)
	if protocol.IsCode(err, "none_match") {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("list_keys: %w", err)
	}
	count, err := res.Count("key_count")
	if err != nil {
		return nil, "", err
	}
	keys, err := res.Indexed("key_%d", count)
	if err != nil {
		return nil, "", err
	}
	next, _ := res.Get("next_after")
	return keys, next, nil
}

// Sleep asks the tracker to hold the connection for seconds. Useful as a
// liveness probe.
func (c *Client) Sleep(ctx context.Context, seconds int) error {
	args := protocol.Args{}
	args.SetInt("duration", int64(seconds))
	_, err := c.request(ctx, "sleep", args)
	return err
}

// FileInfo describes a stored key.
type FileInfo struct {
	Fid      int64
	Domain   string
	Key      string
	Class    string
	Length   int64
	DevCount int
}

// FileInfo returns what the tracker knows about key.
func (c *Client) FileInfo(ctx context.Context, key string) (FileInfo, error) {
	res, err := c.request(ctx, "file_info", c.args(key))
	if err != nil {
		return FileInfo{}, fmt.Errorf("file_info %q: %w", key, err)
	}
	info := FileInfo{Domain: res["domain"], Key: res["key"], Class: res["class"]}
	if info.Fid, err = res.Int("fid"); err != nil {
		return FileInfo{}, err
	}
	if info.Length, err = res.Int("length"); err != nil {
		return FileInfo{}, err
	}
	if info.DevCount, err = res.Count("devcount"); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}
