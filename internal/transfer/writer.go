package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/protocol"
)

// Committer sends tracker commands. *tracker.Conn satisfies it.
type Committer interface {
	Request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error)
}

// FileInfo identifies the tracker-side file a transfer belongs to.
type FileInfo struct {
	Fid    int64
	Domain string
	Key    string
	Class  string

	// CloseArgs are merged into the create_close command.
	CloseArgs protocol.Args
}

// Writer uploads one new file to the first destination that accepts it and
// registers it with the tracker on Close.
//
// With a declared length the content is streamed as it is written. Once any
// byte has reached a destination, a failure there is fatal: the caller's
// earlier bytes are gone and only the first headerRetain of them are kept.
// Without a declared length the content is buffered and PUT whole on Close,
// so every destination can be tried in turn.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	ctx       context.Context
	committer Committer
	info      FileInfo
	dests     []Destination
	length    int64
	id        string
	log       logrus.FieldLogger
	cfg       settings

	active        int
	conn          net.Conn
	headerWritten bool
	writeAttempts int // Successful writes to the active destination
	position      int64
	header        []byte
	body          bytes.Buffer
	closed        bool
	failed        error // Set once the stream cannot continue
}

// NewWriter prepares an upload. A length of 0 means unknown and selects
// buffered mode. ctx bounds every network operation of the transfer.
func NewWriter(ctx context.Context, committer Committer, info FileInfo, dests []Destination, length int64, opts ...Option) (*Writer, error) {
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrLengthMismatch, length)
	}
	for _, d := range dests {
		if err := checkHTTP(d.URL); err != nil {
			return nil, err
		}
	}
	cfg := newSettings(opts)
	id := uuid.NewString()
	w := &Writer{
		ctx:       ctx,
		committer: committer,
		info:      info,
		dests:     append([]Destination(nil), dests...),
		length:    length,
		id:        id,
		cfg:       cfg,
		log: cfg.log.WithFields(logrus.Fields{
			"transfer": id,
			"fid":      info.Fid,
			"key":      info.Key,
		}),
	}
	return w, nil
}

// ID identifies this transfer in log lines.
func (w *Writer) ID() string { return w.id }

// Size reports how many bytes have been accepted.
func (w *Writer) Size() int64 { return w.position }

// Destination is the destination currently in use, or the one that took the
// file once Close has succeeded.
func (w *Writer) Destination() Destination { return w.dests[w.active] }

// Header returns a copy of the retained leading bytes.
func (w *Writer) Header() []byte { return append([]byte(nil), w.header...) }

func (w *Writer) streaming() bool { return w.length > 0 }

// Write sends or buffers p. In streaming mode a failure before the first byte
// reached the active destination moves on to the next one.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.failed != nil {
		return 0, w.failed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !w.streaming() {
		w.retain(p)
		w.body.Write(p)
		w.position += int64(len(p))
		return len(p), nil
	}

	if w.position+int64(len(p)) > w.length {
		return 0, fmt.Errorf("%w: writing %d bytes at offset %d exceeds declared length %d",
			ErrLengthMismatch, len(p), w.position, w.length)
	}
	for {
		err := w.send(p)
		if err == nil {
			break
		}
		if !w.canFailover() {
			w.dropConn()
			w.log.WithError(err).WithField("position", w.position).Error("stream failed after partial write")
			w.failed = fmt.Errorf("%w at offset %d: %w", ErrFailoverRefused, w.position, err)
			return 0, w.failed
		}
		if ferr := w.failover(err); ferr != nil {
			w.failed = ferr
			return 0, ferr
		}
	}
	w.retain(p)
	w.position += int64(len(p))
	w.writeAttempts++
	return len(p), nil
}

// canFailover reports whether nothing has been sent to the active destination
// yet, or the length is unknown and the whole body is still held.
func (w *Writer) canFailover() bool {
	return w.writeAttempts == 0 || !w.streaming()
}

func (w *Writer) failover(cause error) error {
	w.dropConn()
	w.headerWritten = false
	w.writeAttempts = 0

	failed := w.dests[w.active]
	if w.active+1 >= len(w.dests) {
		w.log.WithError(cause).WithField("url", failed.URL).Error("no destinations left")
		return fmt.Errorf("%w: %w", ErrExhausted, cause)
	}
	w.active++
	w.log.WithError(cause).WithFields(logrus.Fields{
		"failed": failed.URL,
		"next":   w.dests[w.active].URL,
	}).Warn("storage destination failed, trying next")
	return nil
}

func (w *Writer) retain(p []byte) {
	if room := headerRetain - len(w.header); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.header = append(w.header, p[:room]...)
	}
}

// send writes p to the active destination, connecting and sending the
// request head first when needed.
func (w *Writer) send(p []byte) error {
	dest := w.dests[w.active]
	if w.conn == nil {
		if err := w.connect(dest); err != nil {
			return err
		}
	}
	if !w.headerWritten {
		if err := w.writeFull(dest, requestHead(dest.URL, w.length)); err != nil {
			return err
		}
		w.headerWritten = true
	}
	return w.writeFull(dest, p)
}

func (w *Writer) connect(dest Destination) error {
	u, err := url.Parse(dest.URL)
	if err != nil {
		return &TransportError{URL: dest.URL, Op: "connect", Err: err}
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.dialTimeout)
	defer cancel()
	conn, err := w.cfg.dial(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{URL: dest.URL, Op: "connect", Err: err}
	}
	w.conn = conn
	w.log.WithField("url", dest.URL).Debug("connected to storage node")
	return nil
}

func (w *Writer) writeFull(dest Destination, p []byte) error {
	_ = w.conn.SetWriteDeadline(w.deadline())
	n, err := w.conn.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &TransportError{URL: dest.URL, Op: "send", Err: err}
	}
	return nil
}

func (w *Writer) deadline() time.Time {
	d := time.Now().Add(w.cfg.ioTimeout)
	if cd, ok := w.ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (w *Writer) dropConn() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// requestHead builds the HTTP/1.0 PUT head for a streamed body.
func requestHead(rawURL string, length int64) []byte {
	u, _ := url.Parse(rawURL)
	var b bytes.Buffer
	b.WriteString("PUT " + u.RequestURI() + " HTTP/1.0\r\n")
	b.WriteString("Host: " + u.Host + "\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n")
	b.WriteString("\r\n")
	return b.Bytes()
}

// Close finishes the upload, commits it with create_close and runs the
// optional verification and replica wait. A second Close returns
// ErrAlreadyClosed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrAlreadyClosed
	}
	w.closed = true
	if w.failed != nil {
		w.dropConn()
		return w.failed
	}

	var err error
	if w.streaming() {
		err = w.finishStream()
	} else {
		err = w.putBuffered()
	}
	if err != nil {
		return err
	}

	dest := w.dests[w.active]
	if err := w.commit(dest); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{"url": dest.URL, "size": w.position}).Info("file stored")

	if w.cfg.verify {
		if err := w.verify(dest); err != nil {
			return err
		}
	}
	if w.cfg.replicas > 0 {
		return w.waitReplicas()
	}
	return nil
}

// finishStream checks the byte count and reads the node's status line.
func (w *Writer) finishStream() error {
	defer w.dropConn()
	if w.position != w.length {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrLengthMismatch, w.position, w.length)
	}
	dest := w.dests[w.active]
	if w.conn == nil {
		return &TransportError{URL: dest.URL, Op: "receive", Err: net.ErrClosed}
	}

	_ = w.conn.SetReadDeadline(w.deadline())
	resp, err := http.ReadResponse(bufio.NewReader(w.conn), nil)
	if err != nil {
		return &TransportError{URL: dest.URL, Op: "receive", Err: err}
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return &StatusError{URL: dest.URL, Method: http.MethodPut, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return nil
}

// putBuffered PUTs the whole body to each destination in order until one
// accepts it.
func (w *Writer) putBuffered() error {
	body := w.body.Bytes()
	var errs []error
	for ; w.active < len(w.dests); w.active++ {
		dest := w.dests[w.active]
		resp, err := do(w.ctx, w.cfg.client, http.MethodPut, dest.URL, bytes.NewReader(body), int64(len(body)), nil)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		w.log.WithError(err).WithField("url", dest.URL).Warn("storage destination failed")
		errs = append(errs, err)
		if w.ctx.Err() != nil {
			break
		}
	}
	w.active = len(w.dests) - 1
	return fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func (w *Writer) commit(dest Destination) error {
	args := protocol.Args{}
	args.SetInt("fid", w.info.Fid)
	args.SetInt("devid", dest.DevID)
	args.Set("domain", w.info.Domain)
	args.Set("key", w.info.Key)
	args.Set("path", dest.URL)
	// size is sent even when 0 so the tracker can answer empty_file.
	args["size"] = strconv.FormatInt(w.position, 10)
	args.Merge(w.info.CloseArgs)

	_, err := w.committer.Request(w.ctx, "create_close", args)
	if protocol.IsCode(err, protocol.CodeEmptyFile) {
		w.log.Debug("empty file committed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create_close: %w", err)
	}
	return nil
}

// verify re-reads the stored file. Buffered uploads are compared in full;
// streamed ones by length and retained prefix.
func (w *Writer) verify(dest Destination) error {
	resp, err := do(w.ctx, w.cfg.client, http.MethodGet, dest.URL, nil, 0, nil)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("verify: %w", &TransportError{URL: dest.URL, Op: "receive", Err: err})
	}

	ok := int64(len(got)) == w.position && bytes.HasPrefix(got, w.header)
	if !w.streaming() {
		ok = bytes.Equal(got, w.body.Bytes())
	}
	if !ok {
		return fmt.Errorf("%w: %s has %d bytes, sent %d", ErrVerifyFailed, dest.URL, len(got), w.position)
	}
	return nil
}

func (w *Writer) waitReplicas() error {
	args := protocol.Args{}
	args.Set("domain", w.info.Domain)
	args.Set("key", w.info.Key)
	args.SetBool("noverify", true)

	deadline := time.Now().Add(w.cfg.replicaWithin)
	have := 0
	for {
		res, err := w.committer.Request(w.ctx, "get_paths", args)
		switch {
		case err == nil:
			if have, err = res.Count("paths"); err != nil {
				return err
			}
			if have >= w.cfg.replicas {
				return nil
			}
		case !protocol.IsCode(err, protocol.CodeUnknownKey):
			return fmt.Errorf("get_paths: %w", err)
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %d of %d paths after %s", ErrReplicaTimeout, have, w.cfg.replicas, w.cfg.replicaWithin)
		}
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-time.After(w.cfg.replicaPoll):
		}
	}
}
