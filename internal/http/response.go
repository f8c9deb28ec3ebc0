package http

import (
	"fmt"
	"os"
	"path"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-httpd/internal/buffer"
	"github.com/ehrlich-b/go-httpd/internal/interfaces"
)

// suffixType maps file suffixes to Content-type values.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// CodeSentinel marks a response whose status is still undecided.
const CodeSentinel = -1

// Response assembles the status line and headers into the write buffer and
// exposes the body as a memory-mapped file.
type Response struct {
	code      int
	path      string
	srcDir    string
	keepAlive bool

	mm     []byte
	mmSize int64

	logger interfaces.Logger
}

// NewResponse creates an empty response.
func NewResponse(logger interfaces.Logger) *Response {
	return &Response{code: CodeSentinel, logger: logger}
}

// Init stores the parameters for the next response and releases any prior
// mapping.
func (r *Response) Init(srcDir, reqPath string, keepAlive bool, code int) {
	r.Unmap()
	r.srcDir = srcDir
	r.path = reqPath
	r.keepAlive = keepAlive
	r.code = code
	r.mmSize = 0
}

// Unmap releases the mapped body. Safe to call repeatedly.
func (r *Response) Unmap() {
	if r.mm != nil {
		unix.Munmap(r.mm)
		r.mm = nil
	}
}

// File returns the mapped body, or nil.
func (r *Response) File() []byte { return r.mm }

// FileLen returns the mapped body size.
func (r *Response) FileLen() int64 { return r.mmSize }

// Code returns the resolved status code.
func (r *Response) Code() int { return r.code }

// KeepAlive reports whether the connection stays open after this response.
func (r *Response) KeepAlive() bool { return r.keepAlive }

// MakeResponse resolves the target file, rewrites error paths to their
// canned pages, and appends the status line and headers to buf. The body is
// left as a mapping so the connection can write it with a gathered writev.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	fi, err := os.Stat(r.fullPath())
	switch {
	case err != nil || fi.IsDir():
		// a protocol error already holds 400; everything else is missing
		if r.code == CodeSentinel || r.code == 200 {
			r.code = 404
		}
	case fi.Mode().Perm()&0o004 == 0:
		r.code = 403
	case r.code == CodeSentinel:
		r.code = 200
	}

	if canned, ok := codePath[r.code]; ok {
		r.path = canned
	}
	r.addStateLine(buf)
	r.addHeader(buf)
	r.addContent(buf)
}

func (r *Response) fullPath() string {
	return path.Join(r.srcDir, r.path)
}

func (r *Response) addStateLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	buf.AppendString("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n")
}

func (r *Response) addHeader(buf *buffer.Buffer) {
	buf.AppendString("Connection: ")
	if r.keepAlive {
		buf.AppendString("keep-alive\r\n")
		buf.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("close\r\n")
	}
	buf.AppendString("Content-type: " + r.fileType() + "\r\n")
}

// fileType derives the Content-type from the path suffix.
func (r *Response) fileType() string {
	suffix := path.Ext(r.path)
	if t, ok := suffixType[suffix]; ok {
		return t
	}
	return "text/plain"
}

// addContent maps the resolved file read-only and appends the
// Content-length terminator. Open or map failure degrades to an inline
// error body.
func (r *Response) addContent(buf *buffer.Buffer) {
	f, err := os.Open(r.fullPath())
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	size := fi.Size()
	if size == 0 {
		buf.AppendString("Content-length: 0\r\n\r\n")
		return
	}

	mm, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		if r.logger != nil {
			r.logger.Errorf("mmap %s: %v", r.fullPath(), err)
		}
		r.errorContent(buf, "File NotFound!")
		return
	}
	r.mm = mm
	r.mmSize = size
	buf.AppendString("Content-length: " + strconv.FormatInt(size, 10) + "\r\n\r\n")
}

// errorContent writes a small inline HTML body when the target file cannot
// be served at all.
func (r *Response) errorContent(buf *buffer.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	body := "<html><title>Error</title>" +
		"<body bgcolor=\"ffffff\">" +
		fmt.Sprintf("%d : %s\n", r.code, status) +
		"<p>" + message + "</p>" +
		"<hr><em>go-httpd</em></body></html>"

	buf.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	buf.AppendString(body)
}
