package http

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-httpd/internal/buffer"
	"github.com/ehrlich-b/go-httpd/internal/constants"
	"github.com/ehrlich-b/go-httpd/internal/interfaces"
)

// ConnConfig carries the per-server collaborators a connection needs.
type ConnConfig struct {
	SrcDir        string
	EdgeTriggered bool
	Store         interfaces.UserStore
	Logger        interfaces.Logger
}

// Conn binds a socket fd to its buffers, request and response, and drives
// the read -> process -> write cycle. While registered with the
// multiplexer its buffers are owned by whichever worker holds it; oneshot
// dispatch guarantees that is at most one.
type Conn struct {
	fd   int
	ip   string
	port int

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	req      *Request
	resp     *Response

	// iov[0] holds the header bytes in writeBuf, iov[1] the mapped body.
	// The body slice borrows from resp and must not outlive its next Init
	// or Unmap.
	iov [2][]byte

	cfg       ConnConfig
	respStart time.Time
	closed    bool
}

// NewConn creates an unbound connection.
func NewConn(cfg ConnConfig) *Conn {
	return &Conn{
		fd:       -1,
		readBuf:  buffer.New(constants.ReadBufferSize),
		writeBuf: buffer.New(constants.WriteBufferSize),
		req:      NewRequest(cfg.Store, cfg.Logger),
		resp:     NewResponse(cfg.Logger),
		cfg:      cfg,
		closed:   true,
	}
}

// Init binds the connection to an accepted socket.
func (c *Conn) Init(fd int, ip string, port int) {
	c.fd = fd
	c.ip = ip
	c.port = port
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.req.Reset()
	c.iov[0] = nil
	c.iov[1] = nil
	c.closed = false
}

// Fd returns the socket fd.
func (c *Conn) Fd() int { return c.fd }

// PeerIP returns the client address.
func (c *Conn) PeerIP() string { return c.ip }

// PeerPort returns the client port.
func (c *Conn) PeerPort() int { return c.port }

// IsKeepAlive reports whether the response being written leaves the
// connection open for reuse.
func (c *Conn) IsKeepAlive() bool { return c.resp.KeepAlive() }

// StatusCode returns the status of the response being written.
func (c *Conn) StatusCode() int { return c.resp.Code() }

// RequestStart returns when processing of the current response began.
func (c *Conn) RequestStart() time.Time { return c.respStart }

// Read fills the read buffer from the socket. Under edge-triggered
// dispatch it loops until the socket would block. Returns the last readv
// count; err is the raw errno.
func (c *Conn) Read() (int, error) {
	var n int
	var err error
	for {
		n, err = c.readBuf.ReadFd(c.fd)
		if n <= 0 {
			break
		}
		if !c.cfg.EdgeTriggered {
			break
		}
	}
	return n, err
}

// Process parses buffered request bytes and, once a request is complete,
// assembles the response and scatter vector. Returns false while more
// bytes are needed.
func (c *Conn) Process(ctx context.Context) bool {
	if c.readBuf.ReadableBytes() <= 0 {
		return false
	}
	c.respStart = time.Now()

	switch c.req.Parse(ctx, c.readBuf) {
	case ParseIncomplete:
		return false
	case ParseOK:
		c.resp.Init(c.cfg.SrcDir, c.req.Path(), c.req.IsKeepAlive(), 200)
	case ParseError:
		c.resp.Init(c.cfg.SrcDir, c.req.Path(), false, 400)
	}

	c.resp.MakeResponse(c.writeBuf)
	c.req.Reset()

	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = nil
	if c.resp.FileLen() > 0 && c.resp.File() != nil {
		c.iov[1] = c.resp.File()
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debugf("client[%d] response %d, %d bytes queued",
			c.fd, c.resp.Code(), c.ToWriteBytes())
	}
	return true
}

// Pending returns the unparsed bytes sitting in the read buffer.
func (c *Conn) Pending() int {
	return c.readBuf.ReadableBytes()
}

// ToWriteBytes returns the bytes still queued for the socket.
func (c *Conn) ToWriteBytes() int {
	return len(c.iov[0]) + len(c.iov[1])
}

// Write gathers the header and mapped body into the socket. It loops while
// edge-triggered, or while more than WriteLoopThreshold bytes remain; a
// level-triggered writer with a small remainder yields back to the
// multiplexer. Returns the last writev count; err is the raw errno.
func (c *Conn) Write() (int, error) {
	var n int
	var err error
	for {
		n, err = unix.Writev(c.fd, [][]byte{c.iov[0], c.iov[1]})
		if n <= 0 {
			break
		}
		c.advance(n)
		if c.ToWriteBytes() == 0 {
			break
		}
		if !c.cfg.EdgeTriggered && c.ToWriteBytes() <= constants.WriteLoopThreshold {
			break
		}
	}
	return n, err
}

// advance consumes n written bytes across the two slots.
func (c *Conn) advance(n int) {
	if n > len(c.iov[0]) {
		n -= len(c.iov[0])
		if len(c.iov[0]) > 0 {
			c.writeBuf.RetrieveAll()
			c.iov[0] = nil
		}
		c.iov[1] = c.iov[1][n:]
		return
	}
	c.iov[0] = c.iov[0][n:]
	c.writeBuf.Retrieve(n)
}

// Close unmaps the response and closes the socket. Idempotent.
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.resp.Unmap()
	c.iov[1] = nil
	unix.Close(c.fd)
	if c.cfg.Logger != nil {
		c.cfg.Logger.Infof("client[%d](%s:%d) quit", c.fd, c.ip, c.port)
	}
}
