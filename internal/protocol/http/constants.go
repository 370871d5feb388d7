package http

import (
	"fmt"
	"strings"
)

// Buffer sizes for a single connection. A request (request line, headers and
// any body) must fit in the read buffer; the response header block, including
// the short error explanations, must fit in the write buffer.
const (
	// ReadBufferSize is the default per-connection request buffer capacity.
	ReadBufferSize = 2048

	// WriteBufferSize is the default per-connection response header capacity.
	WriteBufferSize = 1024

	// MaxPathLen bounds the resolved filesystem path (document root + URL).
	MaxPathLen = 200

	// DefaultDocument replaces a request target of exactly "/".
	DefaultDocument = "index.html"
)

// Method is a recognized request method. Only GET is executed; the others
// parse fully and are then refused.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodOptions
	MethodConnect
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodHead:    "HEAD",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodTrace:   "TRACE",
	MethodOptions: "OPTIONS",
	MethodConnect: "CONNECT",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("METHOD_%d", int(m))
	}
	return methodNames[m]
}

// ParseMethod matches token against the recognized methods, ignoring case.
func ParseMethod(token string) (Method, bool) {
	for m, name := range methodNames {
		if strings.EqualFold(token, name) {
			return Method(m), true
		}
	}
	return 0, false
}

// AllowsBody reports whether a declared Content-Length makes the parser wait
// for a request body.
func (m Method) AllowsBody() bool {
	return m == MethodPost || m == MethodPut
}

// CheckState is the parser's position within the current request.
type CheckState int

const (
	CheckStateRequestLine CheckState = iota
	CheckStateHeader
	CheckStateContent
)

func (s CheckState) String() string {
	switch s {
	case CheckStateRequestLine:
		return "REQUEST_LINE"
	case CheckStateHeader:
		return "HEADER"
	case CheckStateContent:
		return "CONTENT"
	default:
		return fmt.Sprintf("CHECK_STATE_%d", int(s))
	}
}

// Code is the outcome of parsing or resolving a request.
type Code int

const (
	// NoRequest means more input is needed.
	NoRequest Code = iota
	// GetRequest means a complete request was parsed.
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
	ClosedConnection
)

func (c Code) String() string {
	switch c {
	case NoRequest:
		return "NO_REQUEST"
	case GetRequest:
		return "GET_REQUEST"
	case BadRequest:
		return "BAD_REQUEST"
	case NoResource:
		return "NO_RESOURCE"
	case ForbiddenRequest:
		return "FORBIDDEN_REQUEST"
	case FileRequest:
		return "FILE_REQUEST"
	case InternalError:
		return "INTERNAL_ERROR"
	case ClosedConnection:
		return "CLOSED_CONNECTION"
	default:
		return fmt.Sprintf("CODE_%d", int(c))
	}
}

// LineStatus is the result of one line extraction attempt.
type LineStatus int

const (
	LineOK LineStatus = iota
	LineBad
	LineOpen
)

func (s LineStatus) String() string {
	switch s {
	case LineOK:
		return "LINE_OK"
	case LineBad:
		return "LINE_BAD"
	case LineOpen:
		return "LINE_OPEN"
	default:
		return fmt.Sprintf("LINE_%d", int(s))
	}
}

// Status is a response status line plus the short plain-text body sent with
// error responses.
type Status struct {
	Code  int
	Title string
	Form  string
}

var (
	StatusOK = Status{Code: 200, Title: "OK"}

	StatusBadRequest = Status{
		Code:  400,
		Title: "Bad Request",
		Form:  "Your request has bad syntax or is inherently impossible to satisfy.\n",
	}

	StatusForbidden = Status{
		Code:  403,
		Title: "Forbidden",
		Form:  "You do not have permission to get file from this server.\n",
	}

	StatusNotFound = Status{
		Code:  404,
		Title: "Not Found",
		Form:  "The requested file was not found on this server.\n",
	}

	StatusInternalError = Status{
		Code:  500,
		Title: "Internal Error",
		Form:  "There was an unusual problem serving the requested file.\n",
	}
)

// StatusFor maps a terminal outcome to its response status. Outcomes that
// produce no response (NoRequest, ClosedConnection) report false.
func StatusFor(code Code) (Status, bool) {
	switch code {
	case FileRequest:
		return StatusOK, true
	case BadRequest, GetRequest:
		// A parsed request that never reached resolution was refused.
		return StatusBadRequest, true
	case NoResource:
		return StatusNotFound, true
	case ForbiddenRequest:
		return StatusForbidden, true
	case InternalError:
		return StatusInternalError, true
	default:
		return Status{}, false
	}
}
