// Package transfer moves file content between a client and storage nodes.
//
// Writes go to a priority-ordered list of destinations handed out by the
// tracker's create_open. A Writer with a declared length streams straight to
// the node over a raw HTTP/1.0 PUT and can only fail over before the first
// byte reaches it; without a length the body is buffered and each destination
// is tried in turn. Either way Close commits the file with create_close.
//
// Reads walk the path list returned by get_paths until one URL serves the
// content. RangeFile adds positioned reads and writes for edit-in-place.
package transfer
