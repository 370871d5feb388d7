package http

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/marmos91/dittohttp/internal/logger"
	proto "github.com/marmos91/dittohttp/internal/protocol/http"
	"github.com/marmos91/dittohttp/internal/reactor"
	"github.com/marmos91/dittohttp/pkg/docroot"
)

// Owner is the party currently holding processing rights for a connection.
//
// A connection is in exactly one of these states. Leaving an owned state for
// OwnerIdle always happens immediately before the descriptor is re-armed, so
// by the time the next event can be delivered the tag already says idle.
type Owner int32

const (
	// OwnerIdle: armed in the poller, nobody may touch the connection.
	OwnerIdle Owner = iota
	// OwnerReactor: the reactor goroutine is reading, writing or closing.
	OwnerReactor
	// OwnerWorker: queued for, or running on, a worker.
	OwnerWorker
)

func (o Owner) String() string {
	switch o {
	case OwnerIdle:
		return "idle"
	case OwnerReactor:
		return "reactor"
	case OwnerWorker:
		return "worker"
	default:
		return fmt.Sprintf("owner(%d)", int32(o))
	}
}

// HTTPConnection is the per-socket state: request buffer and parser,
// response header buffer, scatter-write set and the mapped file of the
// response in flight.
//
// One HTTPConnection is allocated per table slot and reused for every socket
// that lands on the slot (Init) and for every request on a persistent
// socket (Reset).
type HTTPConnection struct {
	server *HTTPAdapter

	fd   int
	id   uuid.UUID
	peer string

	parser *proto.Parser
	resp   *proto.ResponseBuilder

	mapping *docroot.Mapping
	iov     [2][]byte
	iovCnt  int
	pending int
	sent    int64

	keepAlive bool
	status    int
	method    string
	started   time.Time

	owner atomic.Int32
	inUse atomic.Bool
}

func newHTTPConnection(server *HTTPAdapter) *HTTPConnection {
	return &HTTPConnection{
		server: server,
		fd:     -1,
		parser: proto.NewParser(server.config.ReadBufferSize, server.root.DefaultDocument()),
		resp:   proto.NewResponseBuilder(server.config.WriteBufferSize),
	}
}

// Init binds the connection to a freshly accepted socket. The caller (the
// reactor) owns the connection afterwards.
func (c *HTTPConnection) Init(fd int, peer string) {
	c.fd = fd
	c.peer = peer
	c.id = uuid.New()
	c.owner.Store(int32(OwnerReactor))
	c.Reset()
}

// Reset prepares for the next request on the same socket. Any buffered
// bytes past the previous request are discarded.
func (c *HTTPConnection) Reset() {
	c.parser.Reset()
	c.resp.Reset()
	c.iov = [2][]byte{}
	c.iovCnt = 0
	c.pending = 0
	c.sent = 0
	c.keepAlive = false
	c.status = 0
	c.method = ""
}

// Fd returns the socket descriptor.
func (c *HTTPConnection) Fd() int {
	return c.fd
}

// ID returns the identifier assigned at Init.
func (c *HTTPConnection) ID() uuid.UUID {
	return c.id
}

// Peer returns the remote address.
func (c *HTTPConnection) Peer() string {
	return c.peer
}

// Owner returns the current ownership tag.
func (c *HTTPConnection) Owner() Owner {
	return Owner(c.owner.Load())
}

// transfer moves processing rights from one owner to another. It fails if
// the connection is not owned by from.
func (c *HTTPConnection) transfer(from, to Owner) bool {
	return c.owner.CompareAndSwap(int32(from), int32(to))
}

// rearm hands the connection back to the poller with the given interest.
// The descriptor is read before the tag is released: once the tag says idle
// the reactor may take the connection and close it.
func (c *HTTPConnection) rearm(interest reactor.Interest) error {
	fd := c.fd
	c.owner.Store(int32(OwnerIdle))
	return c.server.poller.Rearm(fd, interest)
}

// Read drains the socket into the request buffer until the kernel has
// nothing more. Returns false when the peer closed or the read failed.
//
// A full buffer stops the drain without error; the parser then reports the
// request as too large.
func (c *HTTPConnection) Read() bool {
	for {
		free := c.parser.Free()
		if len(free) == 0 {
			return true
		}

		n, err := unix.Read(c.fd, free)
		switch {
		case err == nil && n > 0:
			c.parser.Commit(n)
		case err == nil:
			return false
		case errors.Is(err, unix.EAGAIN):
			return true
		case errors.Is(err, unix.EINTR):
			continue
		default:
			logger.Debug("HTTP [%s] read from %s: %v", c.id, c.peer, err)
			return false
		}
	}
}

// Process runs on a worker: parse what has been read, resolve and assemble
// the response, then hand the socket back to the poller. Incomplete requests
// re-arm for more input; complete ones re-arm for writing.
func (c *HTTPConnection) Process() {
	if owner := c.Owner(); owner != OwnerWorker {
		logger.Error("HTTP [%s] processed while owned by %s", c.id, owner)
		return
	}

	c.started = time.Now()
	code := c.ProcessRead()
	if code == proto.NoRequest {
		if err := c.rearm(reactor.Readable); err != nil {
			logger.Debug("HTTP [%s] rearm readable: %v", c.id, err)
			c.server.closeConn(c)
		}
		return
	}

	if !c.ProcessWrite(code) {
		c.server.closeConn(c)
		return
	}

	c.server.metrics.RecordRequest(c.method, c.status, time.Since(c.started))
	logger.Debug("HTTP [%s] %s %s %s -> %d (%s)",
		c.id, c.peer, c.method, c.parser.Request().URL, c.status, code)

	if err := c.rearm(reactor.Writable); err != nil {
		logger.Debug("HTTP [%s] rearm writable: %v", c.id, err)
		c.server.closeConn(c)
	}
}

// ProcessRead advances the parser and, once a request is complete,
// resolves it.
func (c *HTTPConnection) ProcessRead() proto.Code {
	code := c.parser.Process()
	if code == proto.GetRequest {
		return c.DoRequest()
	}
	return code
}

// DoRequest resolves a complete request against the document root. On
// FileRequest the connection holds the file mapping until Unmap.
func (c *HTTPConnection) DoRequest() proto.Code {
	req := c.parser.Request()
	if req.Method != proto.MethodGet {
		return proto.BadRequest
	}

	m, err := c.server.root.Resolve(req.URL)
	switch {
	case err == nil:
		c.mapping = m
		return proto.FileRequest
	case errors.Is(err, docroot.ErrNotFound), errors.Is(err, docroot.ErrPathTooLong):
		return proto.NoResource
	case errors.Is(err, docroot.ErrForbidden):
		return proto.ForbiddenRequest
	default:
		logger.Warn("HTTP [%s] resolve %s: %v", c.id, req.URL, err)
		return proto.InternalError
	}
}

// ProcessWrite assembles the response for code and prepares the scatter
// set. Returns false when no response can be built and the connection must
// be closed.
func (c *HTTPConnection) ProcessWrite(code proto.Code) bool {
	req := c.parser.Request()

	c.method = "UNKNOWN"
	if req.Version != "" {
		c.method = req.Method.String()
	}

	// Malformed requests never keep the connection.
	c.keepAlive = req.KeepAlive && code != proto.BadRequest

	status, ok := proto.StatusFor(code)
	if !ok {
		return false
	}

	if code == proto.FileRequest {
		err := c.resp.BuildFileHeader(req.Version, c.mapping.ContentType(), c.mapping.Size(), c.keepAlive)
		if err == nil {
			c.iov[0] = c.resp.Bytes()
			c.iov[1] = c.mapping.Bytes()
			c.iovCnt = 1
			if len(c.iov[1]) > 0 {
				c.iovCnt = 2
			}
			c.pending = len(c.iov[0]) + len(c.iov[1])
			c.status = status.Code
			return true
		}
		logger.Warn("HTTP [%s] response header: %v", c.id, err)
		c.Unmap()
		status = proto.StatusInternalError
	}

	return c.addErrorResponse(req.Version, status)
}

// addErrorResponse builds an error response carried entirely in the header
// buffer, degrading to 500 when the requested one does not fit.
func (c *HTTPConnection) addErrorResponse(version string, status proto.Status) bool {
	err := c.resp.BuildError(version, status, c.keepAlive)
	if err != nil && status.Code != proto.StatusInternalError.Code {
		status = proto.StatusInternalError
		err = c.resp.BuildError(version, status, c.keepAlive)
	}
	if err != nil {
		logger.Warn("HTTP [%s] error response: %v", c.id, err)
		return false
	}

	c.iov[0] = c.resp.Bytes()
	c.iov[1] = nil
	c.iovCnt = 1
	c.pending = len(c.iov[0])
	c.status = status.Code
	return true
}

// Write flushes the prepared response. It runs on the reactor.
//
// Returns false when the connection must be closed: the write failed, or
// the response is complete and the connection is not persistent. Otherwise
// the socket has been re-armed, for writing when the kernel buffer filled
// up, or for reading the next request.
func (c *HTTPConnection) Write() bool {
	for c.pending > 0 {
		n, err := unix.Writev(c.fd, c.activeIovecs())
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				if err := c.rearm(reactor.Writable); err != nil {
					logger.Debug("HTTP [%s] rearm writable: %v", c.id, err)
					c.finishWrite()
					return false
				}
				return true
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logger.Debug("HTTP [%s] write to %s: %v", c.id, c.peer, err)
			c.finishWrite()
			return false
		}
		c.advance(n)
	}

	c.finishWrite()
	if !c.keepAlive {
		return false
	}

	c.Reset()
	if err := c.rearm(reactor.Readable); err != nil {
		logger.Debug("HTTP [%s] rearm readable: %v", c.id, err)
		return false
	}
	return true
}

func (c *HTTPConnection) activeIovecs() [][]byte {
	if len(c.iov[0]) == 0 {
		return c.iov[1:c.iovCnt]
	}
	return c.iov[:c.iovCnt]
}

// advance consumes n written bytes from the front of the scatter set.
func (c *HTTPConnection) advance(n int) {
	c.pending -= n
	c.sent += int64(n)

	for i := 0; i < c.iovCnt && n > 0; i++ {
		if n >= len(c.iov[i]) {
			n -= len(c.iov[i])
			c.iov[i] = c.iov[i][len(c.iov[i]):]
			continue
		}
		c.iov[i] = c.iov[i][n:]
		n = 0
	}
}

func (c *HTTPConnection) finishWrite() {
	c.Unmap()
	if c.sent > 0 {
		c.server.metrics.RecordBytesSent(c.sent)
		c.sent = 0
	}
}

// Unmap releases the file mapping of the response in flight, if any. Safe
// to call repeatedly.
func (c *HTTPConnection) Unmap() {
	if c.mapping == nil {
		return
	}
	if err := c.mapping.Release(); err != nil {
		logger.Warn("HTTP [%s] %v", c.id, err)
	}
	c.mapping = nil
	c.iov[1] = nil
}

// Close tears the connection down. Only the current owner may call it.
func (c *HTTPConnection) Close() {
	c.server.closeConn(c)
}
