package tracker

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address identifies a tracker by host and port.
// It is comparable and used directly as a map key.
type Address struct {
	Host string
	Port int
}

// ParseAddress parses a "host:port" string.
// The port must be an integer in [1, 65535].
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("tracker address %q must be of form host:port: %w", s, err)
	}
	if host == "" {
		return Address{}, fmt.Errorf("tracker address %q has an empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("tracker address %q: port must be an integer", s)
	}
	if port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("tracker address %q: port %d out of range", s, port)
	}
	return Address{Host: host, Port: port}, nil
}

// ParseAddresses parses every entry of hosts, failing on the first bad one.
func ParseAddresses(hosts []string) ([]Address, error) {
	out := make([]Address, 0, len(hosts))
	for _, h := range hosts {
		addr, err := ParseAddress(h)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// String returns the dialable "host:port" form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
