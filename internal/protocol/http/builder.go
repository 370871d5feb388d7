package http

import (
	"errors"
	"strconv"
)

// ErrResponseOverflow is returned when an append would exceed the response
// buffer capacity.
var ErrResponseOverflow = errors.New("http: response exceeds write buffer")

// ResponseBuilder assembles a response header block in a fixed buffer.
//
// Every Add* call either appends its whole text or nothing: an append that
// would not fit returns ErrResponseOverflow and leaves the buffer as it was.
type ResponseBuilder struct {
	buf []byte
	n   int
}

// NewResponseBuilder creates a builder with a capacity of size bytes. A zero
// size selects WriteBufferSize.
func NewResponseBuilder(size int) *ResponseBuilder {
	if size <= 0 {
		size = WriteBufferSize
	}
	return &ResponseBuilder{buf: make([]byte, size)}
}

// Reset discards the buffered response.
func (b *ResponseBuilder) Reset() {
	b.n = 0
}

// Bytes returns the assembled response. The slice aliases the builder.
func (b *ResponseBuilder) Bytes() []byte {
	return b.buf[:b.n]
}

// Len returns the number of buffered bytes.
func (b *ResponseBuilder) Len() int {
	return b.n
}

// Remaining returns the free capacity.
func (b *ResponseBuilder) Remaining() int {
	return len(b.buf) - b.n
}

func (b *ResponseBuilder) add(parts ...string) error {
	total := 0
	for _, s := range parts {
		total += len(s)
	}
	if total > b.Remaining() {
		return ErrResponseOverflow
	}
	for _, s := range parts {
		b.n += copy(b.buf[b.n:], s)
	}
	return nil
}

// AddStatusLine appends "<version> <code> <title>\r\n". An empty version
// selects HTTP/1.1.
func (b *ResponseBuilder) AddStatusLine(version string, status Status) error {
	if version == "" {
		version = "HTTP/1.1"
	}
	return b.add(version, " ", strconv.Itoa(status.Code), " ", status.Title, "\r\n")
}

// AddHeaders appends the entity headers and the blank line closing the
// header block.
func (b *ResponseBuilder) AddHeaders(contentLength int64, contentType string, keepAlive bool) error {
	if err := b.AddContentType(contentType); err != nil {
		return err
	}
	if err := b.AddContentLength(contentLength); err != nil {
		return err
	}
	if err := b.AddLinger(keepAlive); err != nil {
		return err
	}
	return b.AddBlankLine()
}

// AddContentType appends a Content-Type header. An empty type is skipped.
func (b *ResponseBuilder) AddContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	return b.add("Content-Type: ", contentType, "\r\n")
}

// AddContentLength appends a Content-Length header.
func (b *ResponseBuilder) AddContentLength(n int64) error {
	return b.add("Content-Length: ", strconv.FormatInt(n, 10), "\r\n")
}

// AddLinger appends the Connection header.
func (b *ResponseBuilder) AddLinger(keepAlive bool) error {
	if keepAlive {
		return b.add("Connection: keep-alive\r\n")
	}
	return b.add("Connection: close\r\n")
}

// AddBlankLine terminates the header block.
func (b *ResponseBuilder) AddBlankLine() error {
	return b.add("\r\n")
}

// AddContent appends body text.
func (b *ResponseBuilder) AddContent(content string) error {
	return b.add(content)
}

// BuildError writes a complete error response whose plain-text explanation
// is carried in the builder itself. The buffer is reset first; on overflow
// it is left empty.
func (b *ResponseBuilder) BuildError(version string, status Status, keepAlive bool) error {
	b.Reset()
	err := b.AddStatusLine(version, status)
	if err == nil {
		err = b.AddHeaders(int64(len(status.Form)), "text/plain", keepAlive)
	}
	if err == nil {
		err = b.AddContent(status.Form)
	}
	if err != nil {
		b.Reset()
	}
	return err
}

// BuildFileHeader writes the header block of a 200 response whose body of
// size bytes is sent separately. The buffer is reset first; on overflow it
// is left empty.
func (b *ResponseBuilder) BuildFileHeader(version, contentType string, size int64, keepAlive bool) error {
	b.Reset()
	err := b.AddStatusLine(version, StatusOK)
	if err == nil {
		err = b.AddHeaders(size, contentType, keepAlive)
	}
	if err != nil {
		b.Reset()
	}
	return err
}
