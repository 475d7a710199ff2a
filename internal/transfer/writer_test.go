package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mogile/internal/mogtest"
)

func TestWriterStreamsToPrimary(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "greeting")

	w, err := NewWriter(context.Background(), conn, info, dests, 12, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())

	n, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = w.Write([]byte("world!"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, dests[0], w.Destination())
	assert.Equal(t, int64(12), w.Size())
	data, err := stored(t, c, dests[0])
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(data))

	f, ok := c.File("test", "greeting")
	require.True(t, ok)
	assert.Equal(t, int64(12), f.Size)

	closes := c.Closes()
	require.Len(t, closes, 1)
	assert.Equal(t, "12", closes[0]["size"])
	assert.Equal(t, "1", closes[0]["devid"])
	assert.Equal(t, dests[0].URL, closes[0]["path"])
}

func TestWriterFailsOverWhenConnectFails(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	d := newFaultyDialer()
	d.refuse[nodeAddr(c.Nodes[0])] = true

	w, err := NewWriter(context.Background(), conn, info, dests, 5, WithDialer(d.dial), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, dests[1], w.Destination())
	data, err := stored(t, c, dests[1])
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(data))
	assert.Equal(t, dests[1].URL, c.Closes()[0]["path"])
}

func TestWriterFailsOverWhenFirstWriteBreaks(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	d := newFaultyDialer()
	// The head and two body bytes get through before the pipe breaks.
	d.budgets[nodeAddr(c.Nodes[0])] = len(requestHead(dests[0].URL, 10)) + 2

	w, err := NewWriter(context.Background(), conn, info, dests, 10, WithDialer(d.dial), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, dests[1], w.Destination())
	data, err := stored(t, c, dests[1])
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestWriterRefusesFailoverAfterPartialWrite(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	d := newFaultyDialer()
	d.budgets[nodeAddr(c.Nodes[0])] = len(requestHead(dests[0].URL, 10)) + 5

	w, err := NewWriter(context.Background(), conn, info, dests, 10, WithDialer(d.dial), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("01234"))
	require.NoError(t, err)

	_, err = w.Write([]byte("56789"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailoverRefused)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, dests[0].URL, te.URL)

	// The second destination was never tried.
	assert.Equal(t, []string{nodeAddr(c.Nodes[0])}, d.dialed)
	assert.Equal(t, []byte("01234"), w.Header())

	assert.ErrorIs(t, w.Close(), ErrFailoverRefused)
	assert.Empty(t, c.Closes())
}

func TestWriterStaysFailedAfterRefusedFailover(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	d := newFaultyDialer()
	d.budgets[nodeAddr(c.Nodes[0])] = len(requestHead(dests[0].URL, 15)) + 5

	w, err := NewWriter(context.Background(), conn, info, dests, 15, WithDialer(d.dial), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("01234"))
	require.NoError(t, err)
	_, err = w.Write([]byte("56789"))
	require.ErrorIs(t, err, ErrFailoverRefused)

	n, err := w.Write([]byte("abcde"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrFailoverRefused)
	assert.Len(t, d.dialed, 1, "no redial after the stream failed")
	assert.Equal(t, int64(5), w.Size())

	assert.ErrorIs(t, w.Close(), ErrFailoverRefused)
	assert.ErrorIs(t, w.Close(), ErrAlreadyClosed)
	assert.Empty(t, c.Closes())
}

func TestWriterExhaustsDestinations(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	d := newFaultyDialer()
	d.refuse[nodeAddr(c.Nodes[0])] = true
	d.refuse[nodeAddr(c.Nodes[1])] = true

	w, err := NewWriter(context.Background(), conn, info, dests, 3, WithDialer(d.dial), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Len(t, d.dialed, 2)

	_, err = w.Write([]byte("abc"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Len(t, d.dialed, 2, "an exhausted writer does not retry")
	assert.ErrorIs(t, w.Close(), ErrExhausted)
	assert.Empty(t, c.Closes())
}

func TestWriterLengthChecks(t *testing.T) {
	c := mogtest.NewCluster(t, 1)

	t.Run("write past declared length", func(t *testing.T) {
		conn, info, dests := openOn(t, c, "long")
		w, err := NewWriter(context.Background(), conn, info, dests, 3, WithLogger(quietLogger()))
		require.NoError(t, err)
		_, err = w.Write([]byte("abcd"))
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("close before declared length", func(t *testing.T) {
		conn, info, dests := openOn(t, c, "short")
		w, err := NewWriter(context.Background(), conn, info, dests, 3, WithLogger(quietLogger()))
		require.NoError(t, err)
		_, err = w.Write([]byte("ab"))
		require.NoError(t, err)
		assert.ErrorIs(t, w.Close(), ErrLengthMismatch)
	})

	t.Run("negative length", func(t *testing.T) {
		conn, info, dests := openOn(t, c, "neg")
		_, err := NewWriter(context.Background(), conn, info, dests, -1)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestWriterBufferedFailsOverOnClose(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	c.Nodes[0].FailNext(1, http.StatusInternalServerError, "disk full")

	w, err := NewWriter(context.Background(), conn, info, dests, 0, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("unknown length body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, dests[1], w.Destination())
	data, err := stored(t, c, dests[1])
	require.NoError(t, err)
	assert.Equal(t, "unknown length body", string(data))
}

func TestWriterBufferedAllFail(t *testing.T) {
	c := mogtest.NewCluster(t, 2)
	conn, info, dests := openOn(t, c, "k")
	c.Nodes[0].FailNext(1, http.StatusInternalServerError, "disk full\nretry later")
	c.Nodes[1].FailNext(1, http.StatusForbidden, "no")

	w, err := NewWriter(context.Background(), conn, info, dests, 0, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	err = w.Close()
	require.ErrorIs(t, err, ErrExhausted)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "disk full retry later", se.Body)
	assert.Empty(t, c.Closes())
}

func TestWriterEmptyFileCommits(t *testing.T) {
	c := mogtest.NewCluster(t, 1)
	conn, info, dests := openOn(t, c, "empty")

	w, err := NewWriter(context.Background(), conn, info, dests, 0, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	closes := c.Closes()
	require.Len(t, closes, 1)
	assert.Equal(t, "0", closes[0]["size"])
}

func TestWriterCloseTwice(t *testing.T) {
	c := mogtest.NewCluster(t, 1)
	conn, info, dests := openOn(t, c, "k")

	w, err := NewWriter(context.Background(), conn, info, dests, 0, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Close(), ErrAlreadyClosed)
	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, c.Closes(), 1)
}

func TestWriterRetainsHeader(t *testing.T) {
	c := mogtest.NewCluster(t, 1)
	conn, info, dests := openOn(t, c, "big")
	body := bytes.Repeat([]byte("0123456789"), 300)

	w, err := NewWriter(context.Background(), conn, info, dests, int64(len(body)), WithLogger(quietLogger()), WithVerify(true))
	require.NoError(t, err)
	for i := 0; i < len(body); i += 700 {
		end := i + 700
		if end > len(body) {
			end = len(body)
		}
		_, err := w.Write(body[i:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	assert.Equal(t, body[:headerRetain], w.Header())
}

// tamperTransport serves every GET with the wrong content.
type tamperTransport struct{}

func (tamperTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return http.DefaultTransport.RoundTrip(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("tampered")),
		Request:    req,
	}, nil
}

func TestWriterVerifyDetectsMismatch(t *testing.T) {
	c := mogtest.NewCluster(t, 1)
	conn, info, dests := openOn(t, c, "k")

	w, err := NewWriter(context.Background(), conn, info, dests, 0,
		WithLogger(quietLogger()),
		WithVerify(true),
		WithHTTPClient(&http.Client{Transport: tamperTransport{}}))
	require.NoError(t, err)
	_, err = w.Write([]byte("original"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), ErrVerifyFailed)

	// The file was committed before verification ran.
	assert.Len(t, c.Closes(), 1)
}

func TestWriterReplicaWait(t *testing.T) {
	t.Run("reached", func(t *testing.T) {
		c := mogtest.NewCluster(t, 3)
		c.AutoReplicate = true
		conn, info, dests := openOn(t, c, "k")

		w, err := NewWriter(context.Background(), conn, info, dests, 0,
			WithLogger(quietLogger()), WithReplicaWait(3, 2*time.Second, 5*time.Millisecond))
		require.NoError(t, err)
		_, err = w.Write([]byte("replicate me"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		f, ok := c.File("test", "k")
		require.True(t, ok)
		assert.Len(t, f.Paths, 3)
	})

	t.Run("timeout", func(t *testing.T) {
		c := mogtest.NewCluster(t, 2)
		conn, info, dests := openOn(t, c, "k")

		w, err := NewWriter(context.Background(), conn, info, dests, 0,
			WithLogger(quietLogger()), WithReplicaWait(2, 30*time.Millisecond, 5*time.Millisecond))
		require.NoError(t, err)
		_, err = w.Write([]byte("lonely"))
		require.NoError(t, err)
		err = w.Close()
		assert.ErrorIs(t, err, ErrReplicaTimeout)
		assert.True(t, strings.Contains(err.Error(), "1 of 2"))
	})
}

func TestNewWriterValidates(t *testing.T) {
	_, err := NewWriter(context.Background(), nil, FileInfo{}, nil, 0)
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, err = NewWriter(context.Background(), nil, FileInfo{}, []Destination{{DevID: 1, URL: "ftp://x/y"}}, 0)
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}
