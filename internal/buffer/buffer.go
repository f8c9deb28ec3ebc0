// Package buffer provides the growable byte buffer backing connection I/O.
package buffer

import (
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-httpd/internal/constants"
)

// Buffer is a contiguous byte region with separate read and write cursors.
// Bytes in [readPos, writePos) are readable; [writePos, cap) are writable.
// The ordering 0 <= readPos <= writePos <= cap holds after every operation.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New creates a buffer with the given initial capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = constants.ReadBufferSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int {
	return b.writePos - b.readPos
}

// WritableBytes returns the free space at the tail of the buffer.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writePos
}

// Peek returns the readable region. The slice is invalidated by the next
// append or retrieve.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// Retrieve advances the read cursor by n bytes.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readPos += n
}

// RetrieveAll resets the buffer to empty.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllString drains the readable region and returns it as a string.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies p into the buffer, growing or compacting as needed.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.ensureWritable(len(p))
	copy(b.buf[b.writePos:], p)
	b.HasWritten(len(p))
}

// AppendString copies s into the buffer.
func (b *Buffer) AppendString(s string) {
	if len(s) == 0 {
		return
	}
	b.ensureWritable(len(s))
	copy(b.buf[b.writePos:], s)
	b.HasWritten(len(s))
}

// HasWritten advances the write cursor after a caller filled the tail
// directly.
func (b *Buffer) HasWritten(n int) {
	b.writePos += n
}

// writableSlice returns the free tail region.
func (b *Buffer) writableSlice() []byte {
	return b.buf[b.writePos:]
}

// ensureWritable makes room for n more bytes. If the consumed prefix plus
// the tail is large enough the readable bytes are shifted to offset 0,
// otherwise the backing array is grown.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.readPos >= n {
		readable := b.ReadableBytes()
		copy(b.buf, b.buf[b.readPos:b.writePos])
		b.readPos = 0
		b.writePos = readable
		return
	}
	grown := make([]byte, b.writePos+n)
	copy(grown, b.buf)
	b.buf = grown
}

// ReadFd scatter-reads from fd into the buffer tail and, if the tail fills,
// into an auxiliary region which is then appended. Returns the byte count
// from the readv call; err is the raw errno on failure.
func (b *Buffer) ReadFd(fd int) (int, error) {
	aux := getAux()
	defer putAux(aux)

	tail := b.writableSlice()
	n, err := unix.Readv(fd, [][]byte{tail, aux})
	if n < 0 {
		return n, err
	}
	if n <= len(tail) {
		b.HasWritten(n)
	} else {
		b.HasWritten(len(tail))
		b.Append(aux[:n-len(tail)])
	}
	return n, err
}

// WriteFd drains the readable region into fd. Returns the written byte
// count; err is the raw errno on failure.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n < 0 {
		return n, err
	}
	b.Retrieve(n)
	return n, err
}
