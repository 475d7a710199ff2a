package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/protocol"
	"github.com/dreamware/mogile/internal/transfer"
)

// copyBufferSize is the chunk size StoreFile reads and sends.
const copyBufferSize = 16 * 1024

// NewFileOptions carries the optional parts of create_open and create_close.
type NewFileOptions struct {
	OpenArgs  protocol.Args     // Merged into create_open
	CloseArgs protocol.Args     // Merged into create_close
	Transfer  []transfer.Option // Applied after the client's own transfer options
}

// NewFile opens key for writing and returns the upload. A length of 0 means
// the size is not known up front; the content is then buffered and PUT on
// Close, which lets every destination be tried.
func (c *Client) NewFile(ctx context.Context, key, class string, length int64, opts NewFileOptions) (*transfer.Writer, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	args := c.args(key)
	args.SetInt("fid", 0)
	args.SetBool("multi_dest", true)
	args.Set("class", class)
	args.Merge(opts.OpenArgs)

	res, err := c.request(ctx, "create_open", args)
	if err != nil {
		return nil, fmt.Errorf("create_open %q: %w", key, err)
	}
	fid, err := res.Int("fid")
	if err != nil {
		return nil, fmt.Errorf("create_open %q: %w", key, err)
	}
	dests, err := transfer.ParseDestinations(res)
	if err != nil {
		return nil, fmt.Errorf("create_open %q: %w", key, err)
	}

	c.log.WithFields(logrus.Fields{"key": key, "fid": fid, "destinations": len(dests)}).Debug("file opened")
	info := transfer.FileInfo{
		Fid:       fid,
		Domain:    c.domain,
		Key:       key,
		Class:     class,
		CloseArgs: opts.CloseArgs,
	}
	return transfer.NewWriter(ctx, committer{c}, info, dests, length, c.transferOptions(opts.Transfer)...)
}

// Sizer is implemented by readers that know their total size.
type Sizer interface {
	Size() int64
}

// StoreFile copies r into key and returns the number of bytes stored.
// Readers whose remaining size is known (an *os.File, or anything with Len()
// or Size()) are streamed; anything else is buffered.
func (c *Client) StoreFile(ctx context.Context, key, class string, r io.Reader, opts NewFileOptions) (int64, error) {
	if err := c.checkWritable(); err != nil {
		return 0, err
	}
	length, err := remaining(r)
	if err != nil {
		return 0, err
	}
	w, err := c.NewFile(ctx, key, class, length, opts)
	if err != nil {
		return 0, err
	}

	n, err := io.CopyBuffer(w, onlyReader{r}, make([]byte, copyBufferSize))
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("store %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("store %q: %w", key, err)
	}
	return n, nil
}

// StoreContent stores data under key.
func (c *Client) StoreContent(ctx context.Context, key, class string, data []byte, opts NewFileOptions) (int64, error) {
	if err := c.checkWritable(); err != nil {
		return 0, err
	}
	w, err := c.NewFile(ctx, key, class, 0, opts)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("store %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("store %q: %w", key, err)
	}
	return int64(len(data)), nil
}

// onlyReader hides WriterTo so io.CopyBuffer uses the chunked loop.
type onlyReader struct{ io.Reader }

// remaining returns how many bytes r will yield, or 0 when unknown.
func remaining(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case *os.File:
		fi, err := v.Stat()
		if err != nil {
			return 0, err
		}
		if !fi.Mode().IsRegular() {
			return 0, nil
		}
		pos, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, nil
		}
		return fi.Size() - pos, nil
	case interface{ Len() int }:
		return int64(v.Len()), nil
	case Sizer:
		return v.Size(), nil
	}
	return 0, nil
}

// GetPathsOptions tunes get_paths.
type GetPathsOptions struct {
	Verify    bool   // Ask the tracker to check the paths; sent as noverify=0
	Zone      string // Network zone hint, e.g. "alt"
	PathCount int    // Maximum paths to return, 0 for the tracker default
}

// GetPaths returns the URLs key can be read from, best first.
// An unknown key yields no paths and no error.
func (c *Client) GetPaths(ctx context.Context, key string, opts GetPathsOptions) ([]string, error) {
	args := c.args(key)
	args.SetBool("noverify", !opts.Verify)
	args.Set("zone", opts.Zone)
	args.SetInt("pathcount", int64(opts.PathCount))

	res, err := c.request(ctx, "get_paths", args)
	if protocol.IsCode(err, protocol.CodeUnknownKey) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_paths %q: %w", key, err)
	}
	count, err := res.Count("paths")
	if err != nil {
		return nil, err
	}
	return res.Indexed("path%d", count)
}

func (c *Client) readablePaths(ctx context.Context, key string) ([]string, error) {
	paths, err := c.GetPaths(ctx, key, GetPathsOptions{})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return paths, nil
}

// GetFileData returns the whole content of key.
func (c *Client) GetFileData(ctx context.Context, key string) ([]byte, error) {
	paths, err := c.readablePaths(ctx, key)
	if err != nil {
		return nil, err
	}
	data, _, err := transfer.Fetch(ctx, paths, c.transferOptions(nil)...)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// ReadFile opens key for streaming. The caller must close the result.
func (c *Client) ReadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	paths, err := c.readablePaths(ctx, key)
	if err != nil {
		return nil, err
	}
	rc, _, err := transfer.Open(ctx, paths, c.transferOptions(nil)...)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return rc, nil
}

// OpenRange opens key for positioned reads.
func (c *Client) OpenRange(ctx context.Context, key string) (*transfer.RangeFile, error) {
	paths, err := c.readablePaths(ctx, key)
	if err != nil {
		return nil, err
	}
	dests := make([]transfer.Destination, len(paths))
	for i, p := range paths {
		dests[i] = transfer.Destination{URL: p}
	}
	return transfer.OpenRange(ctx, nil, transfer.FileInfo{Domain: c.domain, Key: key}, dests, transfer.ModeRead, c.transferOptions(nil)...)
}

// EditFile reopens key for in-place modification. The tracker assigns a new
// fid, the stored content is MOVEd to its path, and the returned file commits
// the new fid on Close. With overwrite the content is truncated first.
//
// Requires storage nodes that support MOVE and Content-Range PUT.
func (c *Client) EditFile(ctx context.Context, key string, overwrite bool) (*transfer.RangeFile, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	res, err := c.request(ctx, "edit_file", c.args(key))
	if err != nil {
		return nil, fmt.Errorf("edit_file %q: %w", key, err)
	}
	oldPath, err := res.Require("oldpath")
	if err != nil {
		return nil, err
	}
	newPath, err := res.Require("newpath")
	if err != nil {
		return nil, err
	}
	fid, err := res.Int("fid")
	if err != nil {
		return nil, err
	}
	devid, err := res.Int("devid")
	if err != nil {
		return nil, err
	}

	if err := c.move(ctx, oldPath, newPath); err != nil {
		return nil, err
	}

	mode := transfer.ModeEdit
	if overwrite {
		mode = transfer.ModeOverwrite
	}
	info := transfer.FileInfo{Fid: fid, Domain: c.domain, Key: key, Class: res["class"]}
	dests := []transfer.Destination{{DevID: devid, URL: newPath}}
	return transfer.OpenRange(ctx, committer{c}, info, dests, mode, c.transferOptions(nil)...)
}

func (c *Client) move(ctx context.Context, from, to string) error {
	req, err := http.NewRequestWithContext(ctx, "MOVE", from, nil)
	if err != nil {
		return fmt.Errorf("MOVE %s: %w", from, err)
	}
	req.Header.Set("Destination", to)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transfer.TransportError{URL: from, Op: "request", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to MOVE %s to %s: %w", from, to,
			&transfer.StatusError{URL: from, Method: "MOVE", Status: resp.StatusCode})
	}
	return nil
}
