package mogtest

import (
	"bufio"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/dreamware/mogile/internal/protocol"
)

var (
	// ErrNoReply makes the tracker read the request and never answer it.
	ErrNoReply = errors.New("mogtest: no reply")

	// ErrHangup makes the tracker close the connection instead of answering.
	ErrHangup = errors.New("mogtest: hang up")
)

// RawLine is returned by a handler to send an arbitrary response line.
type RawLine string

func (r RawLine) Error() string { return "mogtest: raw line " + string(r) }

// Request is one command received by a Tracker.
type Request struct {
	Cmd  string
	Args protocol.Args
}

// HandlerFunc answers one command. A *protocol.CommandError becomes an ERR
// line; RawLine, ErrNoReply and ErrHangup control the wire directly.
type HandlerFunc func(req Request) (protocol.Response, error)

// Tracker is an in-process TCP server speaking the tracker line protocol.
// Commands without a handler are answered with ERR unknown_command.
type Tracker struct {
	ln       net.Listener
	handlers map[string]HandlerFunc
	requests []Request
	conns    map[net.Conn]struct{}
	accepted int
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewTracker listens on a loopback port and serves until the test ends.
func NewTracker(t testing.TB) *Tracker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mogtest: listen: %v", err)
	}
	tr := &Tracker{
		ln:       ln,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
	}
	tr.wg.Add(1)
	go tr.serve()
	t.Cleanup(tr.Close)
	return tr
}

// Addr returns the "host:port" the tracker listens on.
func (tr *Tracker) Addr() string {
	return tr.ln.Addr().String()
}

// Handle installs fn for cmd, replacing any earlier handler.
func (tr *Tracker) Handle(cmd string, fn HandlerFunc) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[cmd] = fn
}

// Requests returns a copy of every request received so far.
func (tr *Tracker) Requests() []Request {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]Request(nil), tr.requests...)
}

// Commands returns the command names received so far, in order.
func (tr *Tracker) Commands() []string {
	reqs := tr.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Cmd
	}
	return out
}

// Accepted returns how many connections the tracker has accepted.
func (tr *Tracker) Accepted() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.accepted
}

// DropConnections closes the server side of every open connection, the way a
// tracker restart or idle timeout would.
func (tr *Tracker) DropConnections() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for c := range tr.conns {
		_ = c.Close()
		delete(tr.conns, c)
	}
}

// Close stops the listener and all connections.
func (tr *Tracker) Close() {
	_ = tr.ln.Close()
	tr.DropConnections()
	tr.wg.Wait()
}

func (tr *Tracker) serve() {
	defer tr.wg.Done()
	for {
		c, err := tr.ln.Accept()
		if err != nil {
			return
		}
		tr.mu.Lock()
		tr.accepted++
		tr.conns[c] = struct{}{}
		tr.mu.Unlock()

		tr.wg.Add(1)
		go tr.handleConn(c)
	}
}

func (tr *Tracker) handleConn(c net.Conn) {
	defer tr.wg.Done()
	defer func() {
		tr.mu.Lock()
		delete(tr.conns, c)
		tr.mu.Unlock()
		_ = c.Close()
	}()

	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		req := parseRequest(line)

		tr.mu.Lock()
		tr.requests = append(tr.requests, req)
		fn := tr.handlers[req.Cmd]
		tr.mu.Unlock()

		if fn == nil {
			fn = func(Request) (protocol.Response, error) {
				return nil, &protocol.CommandError{Code: "unknown_command", Message: "Unknown server command"}
			}
		}

		res, err := fn(req)
		var raw RawLine
		var cmdErr *protocol.CommandError
		switch {
		case errors.Is(err, ErrNoReply):
			continue
		case errors.Is(err, ErrHangup):
			return
		case errors.As(err, &raw):
			_, err = c.Write([]byte(raw))
		case errors.As(err, &cmdErr):
			_, err = c.Write([]byte(EncodeError(cmdErr.Code, cmdErr.Message)))
		case err != nil:
			_, err = c.Write([]byte(EncodeError("internal", err.Error())))
		default:
			_, err = c.Write([]byte(EncodeOK(res)))
		}
		if err != nil {
			return
		}
	}
}

func parseRequest(line string) Request {
	line = strings.TrimRight(line, "\r\n")
	cmd, rest, _ := strings.Cut(line, " ")
	args := protocol.Args{}
	if values, err := url.ParseQuery(strings.TrimSpace(rest)); err == nil {
		for k, v := range values {
			if len(v) > 0 {
				args[k] = v[0]
			}
		}
	}
	return Request{Cmd: cmd, Args: args}
}

// EncodeOK renders a success line the way a tracker does.
func EncodeOK(res protocol.Response) string {
	values := url.Values{}
	for k, v := range res {
		values.Set(k, v)
	}
	return "OK " + values.Encode() + "\r\n"
}

// EncodeError renders an ERR line the way a tracker does.
func EncodeError(code, message string) string {
	return "ERR " + code + " " + url.QueryEscape(message) + "\r\n"
}
