package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by I/O on a closed transfer.
	ErrClosed = errors.New("I/O operation on closed file")

	// ErrAlreadyClosed is returned by a second Close.
	ErrAlreadyClosed = errors.New("file already closed")

	// ErrReadOnly is returned by writes to a file opened for reading.
	ErrReadOnly = errors.New("operation on read-only file")

	// ErrNoDestinations is returned when a transfer is given nothing to talk to.
	ErrNoDestinations = errors.New("no destinations")

	// ErrExhausted is wrapped when every destination has failed.
	ErrExhausted = errors.New("couldn't connect to any storage nodes")

	// ErrFailoverRefused is wrapped when a known-length stream fails after
	// bytes were already sent to the active destination.
	ErrFailoverRefused = errors.New("failover refused after partial write")

	// ErrLengthMismatch is returned when the bytes written disagree with the
	// length declared for the transfer.
	ErrLengthMismatch = errors.New("content length mismatch")

	// ErrUnsupportedURL is returned for storage URLs that are not plain http.
	ErrUnsupportedURL = errors.New("unsupported storage URL")

	// ErrVerifyFailed is returned when stored content differs from what was sent.
	ErrVerifyFailed = errors.New("stored content verification failed")

	// ErrReplicaTimeout is returned when the replica count is not reached in time.
	ErrReplicaTimeout = errors.New("timed out waiting for replicas")
)

// TransportError is a connect, send or receive failure against one storage URL.
type TransportError struct {
	URL string
	Op  string // "connect", "send", "receive" or "request"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from a storage node.
type StatusError struct {
	URL    string
	Method string
	Status int
	Body   string // At most maxErrorBody bytes, whitespace collapsed
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage %s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("storage %s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}
