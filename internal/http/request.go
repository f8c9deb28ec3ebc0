// Package http implements the per-connection request parser, response
// builder, and connection state for go-httpd.
package http

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/ehrlich-b/go-httpd/internal/buffer"
	"github.com/ehrlich-b/go-httpd/internal/interfaces"
)

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateFinish
)

// ParseResult is the tri-state outcome of a parse pass.
type ParseResult int

const (
	// ParseOK means a full request was consumed.
	ParseOK ParseResult = iota
	// ParseIncomplete means more bytes are needed; call again after a read.
	ParseIncomplete
	// ParseError means the request line was malformed.
	ParseError
)

var (
	requestLineRe = regexp.MustCompile(`^([^ ]*) ([^ ]*) HTTP/([^ ]*)$`)
	headerRe      = regexp.MustCompile(`^([^:]*): ?(.*)$`)
)

// defaultHTML are the bare page paths that gain a .html suffix.
var defaultHTML = map[string]struct{}{
	"/index":    {},
	"/register": {},
	"/login":    {},
	"/welcome":  {},
	"/video":    {},
	"/picture":  {},
}

// authTag maps form-POST targets to the login flag.
var authTag = map[string]bool{
	"/register.html": false,
	"/login.html":    true,
}

var crlf = []byte("\r\n")

// Request is the incremental request parser. It is created once per
// connection and reset between keep-alive requests.
type Request struct {
	state   parseState
	method  string
	path    string
	version string
	header  map[string]string
	form    map[string]string
	body    string

	store  interfaces.UserStore
	logger interfaces.Logger
}

// NewRequest creates a parser bound to an optional user store.
func NewRequest(store interfaces.UserStore, logger interfaces.Logger) *Request {
	r := &Request{store: store, logger: logger}
	r.Reset()
	return r
}

// Reset returns the parser to the request-line state.
func (r *Request) Reset() {
	r.state = stateRequestLine
	r.method = ""
	r.path = ""
	r.version = ""
	r.body = ""
	r.header = make(map[string]string)
	r.form = make(map[string]string)
}

// Parse consumes lines from buf, advancing the state machine. A missing
// CRLF in the line-oriented states yields ParseIncomplete and leaves the
// unread bytes in place for the next pass.
func (r *Request) Parse(ctx context.Context, buf *buffer.Buffer) ParseResult {
	if buf.ReadableBytes() <= 0 {
		return ParseIncomplete
	}
	for buf.ReadableBytes() > 0 && r.state != stateFinish {
		readable := buf.Peek()

		switch r.state {
		case stateRequestLine:
			end := bytes.Index(readable, crlf)
			if end < 0 {
				return ParseIncomplete
			}
			if !r.parseRequestLine(string(readable[:end])) {
				return ParseError
			}
			r.rewritePath()
			buf.Retrieve(end + 2)

		case stateHeaders:
			end := bytes.Index(readable, crlf)
			if end < 0 {
				return ParseIncomplete
			}
			r.parseHeader(string(readable[:end]))
			// nothing but a bare CRLF can follow: the request is body-less
			if buf.ReadableBytes() <= 2 {
				r.state = stateFinish
				break
			}
			buf.Retrieve(end + 2)

		case stateBody:
			r.body = string(readable)
			buf.RetrieveAll()
			r.parsePost(ctx)
			r.state = stateFinish
		}
	}
	if r.state != stateFinish {
		return ParseIncomplete
	}
	buf.RetrieveAll()
	if r.logger != nil {
		r.logger.Debugf("request [%s] [%s] [%s]", r.method, r.path, r.version)
	}
	return ParseOK
}

func (r *Request) parseRequestLine(line string) bool {
	m := requestLineRe.FindStringSubmatch(line)
	if m == nil {
		if r.logger != nil {
			r.logger.Errorf("bad request line %q", line)
		}
		return false
	}
	r.method = m[1]
	r.path = m[2]
	r.version = m[3]
	r.state = stateHeaders
	return true
}

// rewritePath maps / to the index page and bare page names to their files.
func (r *Request) rewritePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if _, ok := defaultHTML[r.path]; ok {
		r.path += ".html"
	}
}

func (r *Request) parseHeader(line string) {
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		// empty line, or any line without a colon: end of headers
		r.state = stateBody
		return
	}
	// first occurrence of a duplicate name wins
	if _, ok := r.header[m[1]]; !ok {
		r.header[m[1]] = m[2]
	}
}

// parsePost decodes an url-encoded form and, for the login and register
// targets, verifies the credentials against the user store.
func (r *Request) parsePost(ctx context.Context) {
	if r.method != "POST" || r.header["Content-Type"] != "application/x-www-form-urlencoded" {
		return
	}
	r.form = decodeForm(r.body)
	isLogin, ok := authTag[r.path]
	if !ok {
		return
	}
	if r.verify(ctx, r.form["username"], r.form["password"], isLogin) {
		r.path = "/welcome.html"
	} else {
		r.path = "/error.html"
	}
}

func (r *Request) verify(ctx context.Context, name, password string, isLogin bool) bool {
	if name == "" || password == "" || r.store == nil {
		return false
	}
	var ok bool
	var err error
	if isLogin {
		ok, err = r.store.Login(ctx, name, password)
	} else {
		ok, err = r.store.Register(ctx, name, password)
	}
	if err != nil {
		if r.logger != nil {
			r.logger.Errorf("user verify %q: %v", name, err)
		}
		return false
	}
	return ok
}

// decodeForm url-decodes body and splits it on '&'/'=' into a map.
// '+' becomes a space and %HH becomes the named byte, a non-hex digit
// counting as zero; a '%' with fewer than two characters after it, and
// everything else, is taken verbatim.
func decodeForm(body string) map[string]string {
	form := make(map[string]string)
	if body == "" {
		return form
	}

	var decoded strings.Builder
	decoded.Grow(len(body))
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] == '+':
			decoded.WriteByte(' ')
		case body[i] == '%' && i+2 < len(body):
			decoded.WriteByte(hexNibble(body[i+1])<<4 | hexNibble(body[i+2]))
			i += 2
		default:
			decoded.WriteByte(body[i])
		}
	}

	s := decoded.String()
	start := 0
	key := ""
	haveKey := false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '&' {
			if haveKey {
				form[key] = s[start:i]
				haveKey = false
			}
			start = i + 1
		} else if s[i] == '=' && !haveKey {
			key = s[start:i]
			start = i + 1
			haveKey = true
		}
	}
	return form
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// Path returns the (possibly rewritten) request path.
func (r *Request) Path() string { return r.path }

// Version returns the HTTP version token.
func (r *Request) Version() string { return r.version }

// Header returns the value for name, or "".
func (r *Request) Header(name string) string { return r.header[name] }

// Form returns the decoded form value for key, or "".
func (r *Request) Form(key string) string { return r.form[key] }

// IsKeepAlive reports whether the client asked to reuse the connection.
// True iff Connection: keep-alive was sent and the version is 1.1.
func (r *Request) IsKeepAlive() bool {
	return r.header["Connection"] == "keep-alive" && r.version == "1.1"
}
