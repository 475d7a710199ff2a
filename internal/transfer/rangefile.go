package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/protocol"
)

// Mode selects how OpenRange prepares a RangeFile.
type Mode int

const (
	// ModeRead probes the length and refuses writes.
	ModeRead Mode = iota
	// ModeEdit probes the length and allows partial writes.
	ModeEdit
	// ModeOverwrite truncates the file with an empty PUT first.
	ModeOverwrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeEdit:
		return "edit"
	case ModeOverwrite:
		return "overwrite"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// RangeFile is random access to one stored file through HTTP Range reads
// and Content-Range writes. Writable files are committed with create_close
// on Close when they carry a fid and device.
//
// A RangeFile is not safe for concurrent use.
type RangeFile struct {
	ctx       context.Context
	committer Committer
	info      FileInfo
	dest      Destination
	mode      Mode
	cfg       settings
	log       logrus.FieldLogger

	length int64
	pos    int64
	eof    bool
	closed bool
}

// OpenRange binds to the first destination that answers: an empty PUT in
// ModeOverwrite, a HEAD otherwise. committer may be nil in ModeRead.
func OpenRange(ctx context.Context, committer Committer, info FileInfo, dests []Destination, mode Mode, opts ...Option) (*RangeFile, error) {
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}
	if mode != ModeRead && committer == nil {
		return nil, errors.New("transfer: writable range file needs a committer")
	}
	cfg := newSettings(opts)
	log := cfg.log.WithFields(logrus.Fields{
		"transfer": uuid.NewString(),
		"key":      info.Key,
		"mode":     mode.String(),
	})

	var errs []error
	for _, d := range dests {
		if err := checkHTTP(d.URL); err != nil {
			errs = append(errs, err)
			continue
		}
		length, err := probe(ctx, cfg.client, d.URL, mode)
		if err != nil {
			log.WithError(err).WithField("url", d.URL).Warn("storage destination failed")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return &RangeFile{
			ctx:       ctx,
			committer: committer,
			info:      info,
			dest:      d,
			mode:      mode,
			cfg:       cfg,
			log:       log.WithField("url", d.URL),
			length:    length,
		}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func probe(ctx context.Context, client *http.Client, url string, mode Mode) (int64, error) {
	if mode == ModeOverwrite {
		resp, err := do(ctx, client, http.MethodPut, url, http.NoBody, 0, nil)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return 0, nil
	}
	resp, err := do(ctx, client, http.MethodHead, url, nil, 0, nil)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// Destination is the location this file is bound to.
func (f *RangeFile) Destination() Destination { return f.dest }

// Size is the current known length of the file.
func (f *RangeFile) Size() int64 { return f.length }

// Read fetches up to len(p) bytes at the current position. A 416 from the
// node is end of file.
func (f *RangeFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", f.pos, f.pos+int64(len(p))-1))
	resp, err := do(f.ctx, f.cfg.client, http.MethodGet, f.dest.URL, nil, 0, header)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusRequestedRangeNotSatisfiable {
		f.eof = true
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && f.pos > 0 {
		// The node ignored Range and sent the whole file.
		if _, err := io.CopyN(io.Discard, resp.Body, f.pos); err != nil {
			f.eof = true
			return 0, io.EOF
		}
	}
	n, err := io.ReadFull(resp.Body, p)
	f.pos += int64(n)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.eof = true
		return n, nil
	case errors.Is(err, io.EOF):
		f.eof = true
		return 0, io.EOF
	}
	return n, &TransportError{URL: f.dest.URL, Op: "receive", Err: err}
}

// Write stores p at the current position with a Content-Range PUT.
func (f *RangeFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode == ModeRead {
		return 0, ErrReadOnly
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := f.pos + int64(len(p)) - 1
	header := http.Header{}
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", f.pos, end))
	resp, err := do(f.ctx, f.cfg.client, http.MethodPut, f.dest.URL, bytes.NewReader(p), int64(len(p)), header)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	f.pos = end + 1
	if f.pos > f.length {
		f.length = f.pos
	}
	f.eof = false
	return len(p), nil
}

// Seek moves the position. Positions before the start clamp to 0.
func (f *RangeFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.length + offset
	default:
		return f.pos, fmt.Errorf("transfer: invalid whence %d", whence)
	}
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
	f.eof = false
	return pos, nil
}

// Close commits a writable file that has a fid and a device. A second Close
// returns ErrAlreadyClosed.
func (f *RangeFile) Close() error {
	if f.closed {
		return ErrAlreadyClosed
	}
	f.closed = true
	if f.mode == ModeRead || f.info.Fid == 0 || f.dest.DevID == 0 {
		return nil
	}

	args := protocol.Args{}
	args.SetInt("fid", f.info.Fid)
	args.SetInt("devid", f.dest.DevID)
	args.Set("domain", f.info.Domain)
	args.Set("key", f.info.Key)
	args.Set("path", f.dest.URL)
	args["size"] = strconv.FormatInt(f.length, 10)
	args.Merge(f.info.CloseArgs)

	_, err := f.committer.Request(f.ctx, "create_close", args)
	if err != nil && !protocol.IsCode(err, protocol.CodeEmptyFile) {
		return fmt.Errorf("create_close: %w", err)
	}
	f.log.WithField("size", f.length).Info("file committed")
	return nil
}
