// Package protocol implements the tracker wire format: one request line per
// command, one response line per request, no pipelining.
//
// # Requests
//
//	<command> <key=value&key=value...>\r\n
//
// Parameters are form-urlencoded. Empty values are dropped rather than sent
// as "key=", so callers can build an Args map unconditionally.
//
// # Responses
//
//	OK <key=value&...>
//	ERR <code> <message>
//
// Both the ERR code and message are percent-decoded with '+' read as a
// space. A message that needs a literal plus arrives as %2B; a literal '+'
// on the wire comes back as a space. The tracker relies on this, so Decode
// keeps it.
//
// The package is pure encode/decode. Connection handling and retries live in
// internal/tracker.
package protocol
