package protocol

import (
	"fmt"
	"strconv"
)

// Response is the decoded parameter map of an OK line. Order is irrelevant.
type Response map[string]string

// Get returns the value for key and whether it was present.
func (r Response) Get(key string) (string, bool) {
	v, ok := r[key]
	return v, ok
}

// Require returns the value for key or an error naming the missing key.
func (r Response) Require(key string) (string, error) {
	v, ok := r[key]
	if !ok {
		return "", fmt.Errorf("response missing %q", key)
	}
	return v, nil
}

// Int parses the value for key as a base-10 integer.
func (r Response) Int(key string) (int64, error) {
	v, err := r.Require(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("response field %q: %w", key, err)
	}
	return n, nil
}

// Count parses a non-negative element count such as "paths" or "key_count".
// An absent count is treated as zero.
func (r Response) Count(key string) (int, error) {
	if _, ok := r[key]; !ok {
		return 0, nil
	}
	n, err := r.Int(key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("response field %q: negative count %d", key, n)
	}
	return int(n), nil
}

// Indexed collects r[fmt.Sprintf(format, i)] for i in [1, count].
// Any missing element is an error.
func (r Response) Indexed(format string, count int) ([]string, error) {
	out := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		v, err := r.Require(fmt.Sprintf(format, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
