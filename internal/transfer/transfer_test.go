package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"testing"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mogile/internal/mogtest"
	"github.com/dreamware/mogile/internal/protocol"
	"github.com/dreamware/mogile/internal/tracker"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

// openOn runs create_open against the cluster and returns what a Writer needs.
func openOn(t *testing.T, c *mogtest.Cluster, key string) (*tracker.Conn, FileInfo, []Destination) {
	t.Helper()
	addr, err := tracker.ParseAddress(c.Tracker.Addr())
	require.NoError(t, err)
	conn := tracker.NewConn(tracker.NewHostPool([]tracker.Address{addr}), tracker.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = conn.Close() })

	c.AddDomain("test", nil)
	args := protocol.Args{}
	args.Set("domain", "test")
	args.Set("key", key)
	args.SetBool("multi_dest", true)
	res, err := conn.Request(context.Background(), "create_open", args)
	require.NoError(t, err)

	fid, err := res.Int("fid")
	require.NoError(t, err)
	dests, err := ParseDestinations(res)
	require.NoError(t, err)
	return conn, FileInfo{Fid: fid, Domain: "test", Key: key}, dests
}

// stored returns what the node behind dest holds at dest's path.
func stored(t *testing.T, c *mogtest.Cluster, dest Destination) ([]byte, error) {
	t.Helper()
	u, err := url.Parse(dest.URL)
	require.NoError(t, err)
	return c.Nodes[dest.DevID-1].Store.Get(u.Path)
}

func nodeAddr(n *mogtest.StorageNode) string {
	return n.Listener.Addr().String()
}

var errBroken = errors.New("broken pipe")

// faultyDialer refuses some addresses and cuts others off after a byte budget.
type faultyDialer struct {
	mu      sync.Mutex
	refuse  map[string]bool
	budgets map[string]int
	dialed  []string
}

func newFaultyDialer() *faultyDialer {
	return &faultyDialer{refuse: map[string]bool{}, budgets: map[string]int{}}
}

func (d *faultyDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	refuse := d.refuse[address]
	budget, limited := d.budgets[address]
	d.mu.Unlock()

	if refuse {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	conn, err := defaultDial(ctx, network, address)
	if err != nil || !limited {
		return conn, err
	}
	return &budgetConn{Conn: conn, budget: budget}, nil
}

type budgetConn struct {
	net.Conn
	budget int
}

func (c *budgetConn) Write(p []byte) (int, error) {
	if len(p) <= c.budget {
		c.budget -= len(p)
		return c.Conn.Write(p)
	}
	n := c.budget
	c.budget = 0
	if n > 0 {
		n, _ = c.Conn.Write(p[:n])
	}
	return n, errBroken
}

func TestParseDestinations(t *testing.T) {
	t.Run("indexed", func(t *testing.T) {
		dests, err := ParseDestinations(protocol.Response{
			"fid":       "7",
			"dev_count": "2",
			"devid_1":   "3",
			"path_1":    "http://a:7500/dev3/0/000/000/0000000007.fid",
			"devid_2":   "5",
			"path_2":    "http://b:7500/dev5/0/000/000/0000000007.fid",
		})
		require.NoError(t, err)
		assert.Equal(t, []Destination{
			{DevID: 3, URL: "http://a:7500/dev3/0/000/000/0000000007.fid"},
			{DevID: 5, URL: "http://b:7500/dev5/0/000/000/0000000007.fid"},
		}, dests)
	})

	t.Run("single", func(t *testing.T) {
		dests, err := ParseDestinations(protocol.Response{"fid": "7", "devid": "3", "path": "http://a/x.fid"})
		require.NoError(t, err)
		assert.Equal(t, []Destination{{DevID: 3, URL: "http://a/x.fid"}}, dests)
	})

	t.Run("no devices", func(t *testing.T) {
		_, err := ParseDestinations(protocol.Response{"fid": "7", "dev_count": "0"})
		assert.ErrorIs(t, err, ErrNoDestinations)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ParseDestinations(protocol.Response{"dev_count": "1", "devid_1": "3"})
		assert.Error(t, err)
	})

	t.Run("https rejected", func(t *testing.T) {
		_, err := ParseDestinations(protocol.Response{"devid": "3", "path": "https://a/x.fid"})
		assert.ErrorIs(t, err, ErrUnsupportedURL)
	})
}

func TestReadErrorBody(t *testing.T) {
	r := readErrorBody(strings.NewReader("disk full\r\n  retry\tlater\n"))
	assert.Equal(t, "disk full retry later", r)

	long := strings.Repeat("x", 3000)
	assert.Len(t, readErrorBody(strings.NewReader(long)), maxErrorBody)

	// Two-byte runes starting at odd offsets put a continuation byte at the cut.
	accented := "x" + strings.Repeat("é", 600)
	got := readErrorBody(strings.NewReader(accented))
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxErrorBody-1)
	assert.True(t, strings.HasPrefix(accented, got))
}

func TestRequestHead(t *testing.T) {
	head := string(requestHead("http://10.0.0.1:7500/dev1/0/000/000/0000000001.fid", 12))
	assert.Equal(t, "PUT /dev1/0/000/000/0000000001.fid HTTP/1.0\r\n"+
		"Host: 10.0.0.1:7500\r\n"+
		"Connection: close\r\n"+
		"Content-Length: 12\r\n\r\n", head)
}
