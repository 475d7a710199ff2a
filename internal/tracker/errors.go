package tracker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable matches any *UnavailableError.
	ErrUnavailable = errors.New("no tracker available")

	// ErrTimeout is wrapped when a tracker does not answer within the read timeout.
	ErrTimeout = errors.New("tracker read timeout")
)

// UnavailableError reports that no configured tracker accepted a connection.
type UnavailableError struct {
	Hosts []Address // Every configured tracker
	Errs  []error   // One entry per failed dial attempt, may be empty when all were dead-marked
}

func (e *UnavailableError) Error() string {
	hosts := make([]string, len(e.Hosts))
	for i, h := range e.Hosts {
		hosts[i] = h.String()
	}
	msg := fmt.Sprintf("couldn't connect to any tracker: [%s]", strings.Join(hosts, ", "))
	if len(e.Errs) > 0 {
		msg += ": " + e.Errs[len(e.Errs)-1].Error()
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() []error {
	return e.Errs
}
