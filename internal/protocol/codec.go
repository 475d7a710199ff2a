package protocol

import (
	"net/url"
	"strconv"
	"strings"
)

// Args holds the parameters of a tracker request.
// Keys with an empty value are never put on the wire.
type Args map[string]string

// Set stores value under key, or removes key when value is empty.
func (a Args) Set(key, value string) {
	if value == "" {
		delete(a, key)
		return
	}
	a[key] = value
}

// SetInt stores the decimal form of n under key, or removes key when n is zero.
func (a Args) SetInt(key string, n int64) {
	if n == 0 {
		delete(a, key)
		return
	}
	a[key] = strconv.FormatInt(n, 10)
}

// SetBool stores "1" for true and removes key for false.
func (a Args) SetBool(key string, b bool) {
	if !b {
		delete(a, key)
		return
	}
	a[key] = "1"
}

// Merge copies every non-empty entry of other into a, overwriting existing keys.
func (a Args) Merge(other Args) {
	for k, v := range other {
		a.Set(k, v)
	}
}

// Encode builds the request line for cmd.
// The parameter string is form-urlencoded with keys in sorted order so the
// same request always produces the same bytes.
//
// Example:
//
//	Encode("get_paths", Args{"domain": "photos", "key": "a b"})
//	// "get_paths domain=photos&key=a+b\r\n"
func Encode(cmd string, args Args) string {
	values := url.Values{}
	for k, v := range args {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	return cmd + " " + values.Encode() + "\r\n"
}

// Decode parses one response line from a tracker.
//
// Accepted shapes:
//   - "OK <urlencoded pairs>" (an optional numeric token may precede the pairs)
//   - "OK" or "OK " with nothing else, an empty success
//   - "ERR <code> <message>", returned as *CommandError
//
// Everything else, the empty line included, is a *ProtocolError.
func Decode(line string) (Response, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return nil, &ProtocolError{Line: line, Reason: "empty response"}
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "OK":
		return decodeOK(line, fields[1:])
	case "ERR":
		if len(fields) < 2 {
			return nil, &ProtocolError{Line: line, Reason: "error response without code"}
		}
		cmdErr := &CommandError{Code: unquotePlus(fields[1])}
		if len(fields) > 2 {
			cmdErr.Message = unquotePlus(fields[2])
		}
		return nil, cmdErr
	default:
		return nil, &ProtocolError{Line: line, Reason: "invalid response from server"}
	}
}

func decodeOK(line string, rest []string) (Response, error) {
	if len(rest) > 0 && isDigits(rest[0]) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return Response{}, nil
	}

	values, err := url.ParseQuery(rest[0])
	if err != nil {
		return nil, &ProtocolError{Line: line, Reason: "malformed parameters: " + err.Error()}
	}
	res := make(Response, len(values))
	for k, v := range values {
		if len(v) > 0 {
			res[k] = v[0]
		}
	}
	return res, nil
}

// unquotePlus decodes %XX escapes and turns '+' into a space.
// A malformed escape leaves the text as sent, apart from the '+' mapping.
func unquotePlus(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return strings.ReplaceAll(s, "+", " ")
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
