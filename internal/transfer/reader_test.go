package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mogile/internal/mogtest"
	"github.com/dreamware/mogile/internal/protocol"
)

func TestFetchFailsOverAcrossPaths(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	require.NoError(t, node.Store.Put("/dev2/x.fid", []byte("payload")))
	dead := mogtest.DeadURL(t, "/dev1/x.fid")

	data, from, err := Fetch(context.Background(), []string{dead, node.URL("/dev2/x.fid")}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, node.URL("/dev2/x.fid"), from)
}

func TestFetchSkipsErrorStatus(t *testing.T) {
	a := mogtest.NewStorageNode(t)
	b := mogtest.NewStorageNode(t)
	require.NoError(t, b.Store.Put("/f", []byte("from b")))

	data, from, err := Fetch(context.Background(), []string{a.URL("/f"), b.URL("/f")}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "from b", string(data))
	assert.Equal(t, b.URL("/f"), from)
}

func TestFetchAllFail(t *testing.T) {
	a := mogtest.NewStorageNode(t)
	_, _, err := Fetch(context.Background(), []string{a.URL("/missing")}, WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrExhausted)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)

	_, _, err = Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, _, err = Fetch(context.Background(), []string{"https://example.com/x"}, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.fid")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0o644))

	data, from, err := Fetch(context.Background(), []string{"file://" + path})
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(data))
	assert.Equal(t, "file://"+path, from)

	data, _, err = Fetch(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(data))
}

func TestOpenStreams(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	require.NoError(t, node.Store.Put("/s", []byte("streamed content")))

	rc, from, err := Open(context.Background(), []string{node.URL("/s")})
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, node.URL("/s"), from)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed content", string(data))
}

// recordingCommitter answers every command with OK and remembers it.
type recordingCommitter struct {
	mu   sync.Mutex
	cmds []string
	args []protocol.Args
	err  error
}

func (r *recordingCommitter) Request(_ context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	r.args = append(r.args, args)
	return protocol.Response{}, r.err
}

func TestRangeFileOverwriteAndRead(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	require.NoError(t, node.Store.Put("/f", []byte("old content that goes away")))
	rec := &recordingCommitter{}
	dest := Destination{DevID: 4, URL: node.URL("/f")}
	info := FileInfo{Fid: 9, Domain: "d", Key: "k"}

	f, err := OpenRange(context.Background(), rec, info, []Destination{dest}, ModeOverwrite, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Size())

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), f.Size())

	data, err := node.Store.Get("/f")
	require.NoError(t, err)
	assert.Equal(t, "hello\x00world", string(data))

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, f.Close())
	require.Equal(t, []string{"create_close"}, rec.cmds)
	assert.Equal(t, "11", rec.args[0]["size"])
	assert.Equal(t, "4", rec.args[0]["devid"])
	assert.Equal(t, "9", rec.args[0]["fid"])

	assert.ErrorIs(t, f.Close(), ErrAlreadyClosed)
	_, err = f.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRangeFileReadToEOF(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	require.NoError(t, node.Store.Put("/r", []byte("0123456789")))

	f, err := OpenRange(context.Background(), nil, FileInfo{}, []Destination{{URL: node.URL("/r")}}, ModeRead)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.Size())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	tail, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "789", string(tail))

	pos, err := f.Seek(-100, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrReadOnly)
	require.NoError(t, f.Close())
}

func TestRangeFileEditFailsOver(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	require.NoError(t, node.Store.Put("/e", []byte("abc")))
	rec := &recordingCommitter{err: &protocol.CommandError{Code: protocol.CodeEmptyFile}}

	dests := []Destination{
		{DevID: 1, URL: mogtest.DeadURL(t, "/e")},
		{DevID: 2, URL: node.URL("/e")},
	}
	f, err := OpenRange(context.Background(), rec, FileInfo{Fid: 1, Key: "k"}, dests, ModeEdit, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, dests[1], f.Destination())
	assert.Equal(t, int64(3), f.Size())

	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, err = f.Write([]byte("def"))
	require.NoError(t, err)

	// empty_file from the tracker is not an error.
	require.NoError(t, f.Close())
	data, err := node.Store.Get("/e")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestOpenRangeAllFail(t *testing.T) {
	node := mogtest.NewStorageNode(t)
	_, err := OpenRange(context.Background(), nil, FileInfo{}, []Destination{{URL: node.URL("/missing")}}, ModeRead, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = OpenRange(context.Background(), nil, FileInfo{}, nil, ModeRead)
	assert.ErrorIs(t, err, ErrNoDestinations)
}
