package constants

import "time"

// Default configuration constants
const (
	// DefaultPort is the port the server listens on when none is given
	DefaultPort = 8080

	// DefaultWorkers is the default worker pool size
	DefaultWorkers = 6

	// DefaultTaskBacklog is the default depth of the worker task queue
	DefaultTaskBacklog = 1024

	// DefaultTimeout is the default per-connection idle timeout
	DefaultTimeout = 60 * time.Second

	// DefaultSQLPoolSize is the default user-store connection pool size
	DefaultSQLPoolSize = 10

	// MaxOpenConns is the hard cap on concurrent client connections.
	// New connections beyond the cap are told the server is busy and closed.
	MaxOpenConns = 65536
)

// Buffer sizing
const (
	// ReadBufferSize is the initial size of a connection's read buffer
	ReadBufferSize = 1024

	// WriteBufferSize is the initial size of a connection's write buffer
	WriteBufferSize = 1024

	// AuxReadBufferSize is the size of the auxiliary scatter-read buffer.
	// A socket read fills the buffer tail first and overflows into an
	// auxiliary region of this size, which is then appended.
	AuxReadBufferSize = 64 * 1024

	// WriteLoopThreshold keeps a level-triggered writer looping while more
	// than this many bytes remain queued for the socket.
	WriteLoopThreshold = 10240
)

// Logging
const (
	// LogMaxLines is the number of lines written to a log file before it
	// rotates to a numbered sibling.
	LogMaxLines = 50000

	// DefaultLogQueueSize is the default capacity of the async log queue
	DefaultLogQueueSize = 1024
)

// MaxEvents is the multiplexer's event batch size per wait call
const MaxEvents = 4096
