// Package http implements the HTTP/1.x request parser and response builder
// used by the reactor-driven file server.
//
// # Parsing
//
// A Parser owns one fixed-capacity request buffer. Bytes are appended as they
// arrive from the socket (Free + Commit, or Feed) and Process is called after
// every append. Process resumes exactly where it stopped: already-scanned
// bytes are never re-scanned, so a request split across any number of reads
// yields the same outcome and the same parsed fields as the request delivered
// in one piece.
//
// The automaton has three states:
//
//	REQUEST_LINE --valid line--> HEADER --blank line, body declared--> CONTENT
//	     |                          |                                     |
//	     +---- malformed ----> BAD_REQUEST <----- malformed ---------------+
//
// A blank line without a body, or a fully buffered body, completes the
// request (GET_REQUEST). Input that ends mid-line or mid-body yields
// NO_REQUEST and the caller waits for more bytes.
//
// # Responses
//
// ResponseBuilder appends the status line and header fields into a fixed
// buffer. Every append is all-or-nothing: one that would not fit returns
// ErrResponseOverflow and leaves the buffer unchanged.
//
// # Thread Safety
//
// Parser and ResponseBuilder are not safe for concurrent use. The connection
// that owns them guarantees a single owner at a time.
package http
