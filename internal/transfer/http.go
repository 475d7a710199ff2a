package transfer

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// headerRetain is how many leading bytes of every upload are kept in memory.
	headerRetain = 1024

	// maxErrorBody bounds the diagnostic body carried by a StatusError.
	maxErrorBody = 512

	// DefaultDialTimeout bounds a storage node connect.
	DefaultDialTimeout = 5 * time.Second

	// DefaultIOTimeout bounds each socket read or write while streaming.
	DefaultIOTimeout = 30 * time.Second
)

// DialFunc opens a TCP connection to a storage node.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

var defaultHTTPClient = &http.Client{Timeout: 60 * time.Second}

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// do sends one request and turns transport failures and non-2xx answers into
// *TransportError and *StatusError. On success the caller owns resp.Body.
func do(ctx context.Context, client *http.Client, method, url string, body io.Reader, length int64, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &TransportError{URL: url, Op: "request", Err: err}
	}
	if body != nil {
		req.ContentLength = length
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Op: "request", Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, &StatusError{URL: url, Method: method, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return resp, nil
}

// readErrorBody reads a bounded prefix of an error body, collapses whitespace
// and newlines to single spaces, and cuts it to maxErrorBody bytes.
func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4*maxErrorBody))
	text := strings.Join(strings.Fields(string(data)), " ")
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
