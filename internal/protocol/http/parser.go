package http

import (
	"bytes"
	"strconv"
	"strings"
)

// Request holds the fields extracted from one request.
//
// URL is the normalized, root-relative path: the scheme and authority of an
// absolute-form target and any query string are removed, and "/" is replaced
// by the default document. Body aliases the parser buffer and is only valid
// until the next Reset.
type Request struct {
	Method        Method
	URL           string
	Version       string
	Host          string
	ContentLength int
	KeepAlive     bool
	Body          []byte
}

// Parser is the incremental request state machine for one connection.
//
// Invariant: startLine <= checkedIdx <= readIdx <= len(buf).
type Parser struct {
	buf        []byte
	readIdx    int
	checkedIdx int
	startLine  int

	state           CheckState
	defaultDocument string

	req Request

	// Explicit Connection header tokens; persistence is decided at the
	// blank line once the version is known.
	connClose     bool
	connKeepAlive bool
}

// NewParser creates a parser with a request buffer of size bytes.
// A zero size selects ReadBufferSize and an empty defaultDocument selects
// DefaultDocument.
func NewParser(size int, defaultDocument string) *Parser {
	if size <= 0 {
		size = ReadBufferSize
	}
	if defaultDocument == "" {
		defaultDocument = DefaultDocument
	}
	return &Parser{
		buf:             make([]byte, size),
		defaultDocument: defaultDocument,
	}
}

// Reset prepares the parser for a new request. Bytes buffered beyond the
// previous request are discarded.
func (p *Parser) Reset() {
	p.readIdx = 0
	p.checkedIdx = 0
	p.startLine = 0
	p.state = CheckStateRequestLine
	p.req = Request{}
	p.connClose = false
	p.connKeepAlive = false
}

// Free returns the unused tail of the request buffer. Callers read into it
// and then report the byte count with Commit.
func (p *Parser) Free() []byte {
	return p.buf[p.readIdx:]
}

// Commit records n bytes appended to the slice returned by Free.
func (p *Parser) Commit(n int) {
	if n < 0 || p.readIdx+n > len(p.buf) {
		panic("http: commit beyond request buffer")
	}
	p.readIdx += n
}

// Feed copies as much of data as fits into the buffer and returns the number
// of bytes taken.
func (p *Parser) Feed(data []byte) int {
	n := copy(p.buf[p.readIdx:], data)
	p.readIdx += n
	return n
}

// Full reports whether the request buffer has no room left.
func (p *Parser) Full() bool {
	return p.readIdx == len(p.buf)
}

// Buffered returns the number of bytes currently held.
func (p *Parser) Buffered() int {
	return p.readIdx
}

// State returns the current automaton state.
func (p *Parser) State() CheckState {
	return p.state
}

// Request returns the fields parsed so far.
func (p *Parser) Request() *Request {
	return &p.req
}

// NextLine scans from the current cursor for a CRLF terminator.
//
// On LineOK the cursor is positioned just past the terminator; the line
// itself spans buf[startLine:checkedIdx-2]. On LineOpen the cursor stops on
// the last unterminated byte so the next call resumes without re-scanning.
// A lone CR or LF, or a full buffer without a terminator, is LineBad.
func (p *Parser) NextLine() LineStatus {
	for ; p.checkedIdx < p.readIdx; p.checkedIdx++ {
		switch p.buf[p.checkedIdx] {
		case '\r':
			if p.checkedIdx+1 == p.readIdx {
				if p.Full() {
					return LineBad
				}
				return LineOpen
			}
			if p.buf[p.checkedIdx+1] != '\n' {
				return LineBad
			}
			p.checkedIdx += 2
			return LineOK
		case '\n':
			return LineBad
		}
	}

	if p.Full() {
		return LineBad
	}
	return LineOpen
}

// Process drives the automaton over everything buffered so far. It returns
// NoRequest when more input is needed, GetRequest when a complete request
// has been parsed, or BadRequest.
func (p *Parser) Process() Code {
	for {
		if p.state == CheckStateContent {
			return p.parseContent()
		}

		switch p.NextLine() {
		case LineOpen:
			return NoRequest
		case LineBad:
			return BadRequest
		}

		line := p.buf[p.startLine : p.checkedIdx-2]
		p.startLine = p.checkedIdx

		var code Code
		switch p.state {
		case CheckStateRequestLine:
			code = p.parseRequestLine(line)
		case CheckStateHeader:
			code = p.parseHeaders(line)
		}
		if code != NoRequest {
			return code
		}
	}
}

// parseRequestLine accepts exactly "METHOD SP TARGET SP VERSION".
func (p *Parser) parseRequestLine(line []byte) Code {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return BadRequest
	}
	target, version, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(method) == 0 || len(target) == 0 || len(version) == 0 {
		return BadRequest
	}
	if bytes.IndexByte(version, ' ') >= 0 {
		return BadRequest
	}

	m, ok := ParseMethod(string(method))
	if !ok {
		return BadRequest
	}

	v := strings.ToUpper(string(version))
	if v != "HTTP/1.1" && v != "HTTP/1.0" {
		return BadRequest
	}

	url, ok := p.normalizeTarget(string(target))
	if !ok {
		return BadRequest
	}

	p.req.Method = m
	p.req.Version = v
	p.req.URL = url
	p.state = CheckStateHeader
	return NoRequest
}

func (p *Parser) normalizeTarget(target string) (string, bool) {
	for _, scheme := range []string{"http://", "https://"} {
		if len(target) >= len(scheme) && strings.EqualFold(target[:len(scheme)], scheme) {
			i := strings.IndexByte(target[len(scheme):], '/')
			if i < 0 {
				return "", false
			}
			target = target[len(scheme)+i:]
			break
		}
	}

	if path, _, found := strings.Cut(target, "?"); found {
		target = path
	}
	if !strings.HasPrefix(target, "/") {
		return "", false
	}
	if target == "/" {
		target = "/" + p.defaultDocument
	}
	return target, true
}

// parseHeaders handles one header line, or the blank line ending the block.
func (p *Parser) parseHeaders(line []byte) Code {
	if len(line) == 0 {
		return p.endHeaders()
	}

	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return BadRequest
	}
	key := string(bytes.TrimRight(name, " \t"))
	val := string(bytes.Trim(value, " \t"))

	switch {
	case strings.EqualFold(key, "Host"):
		p.req.Host = val
	case strings.EqualFold(key, "Content-Length"):
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return BadRequest
		}
		p.req.ContentLength = n
	case strings.EqualFold(key, "Connection"):
		for _, token := range strings.Split(val, ",") {
			switch strings.ToLower(strings.TrimSpace(token)) {
			case "close":
				p.connClose = true
			case "keep-alive":
				p.connKeepAlive = true
			}
		}
	}
	return NoRequest
}

func (p *Parser) endHeaders() Code {
	if p.req.Version == "HTTP/1.1" {
		p.req.KeepAlive = !p.connClose
	} else {
		p.req.KeepAlive = p.connKeepAlive && !p.connClose
	}

	if p.req.ContentLength > 0 && p.req.Method.AllowsBody() {
		if p.checkedIdx+p.req.ContentLength > len(p.buf) {
			return BadRequest
		}
		p.state = CheckStateContent
		return NoRequest
	}
	return GetRequest
}

// parseContent completes the request once the declared body is buffered.
func (p *Parser) parseContent() Code {
	if p.readIdx < p.checkedIdx+p.req.ContentLength {
		return NoRequest
	}
	end := p.checkedIdx + p.req.ContentLength
	p.req.Body = p.buf[p.checkedIdx:end]
	p.checkedIdx = end
	p.startLine = end
	return GetRequest
}
