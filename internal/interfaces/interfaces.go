// Package interfaces provides internal interface definitions for go-httpd.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

import "context"

// Logger is the optional logging interface threaded through components.
// A nil Logger disables logging for that component.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// UserStore is the external collaborator behind the login/register form.
// Its contract is: borrow a connection, run one query, return it.
type UserStore interface {
	// Login reports whether name exists with a matching password.
	Login(ctx context.Context, name, password string) (bool, error)

	// Register creates the user if the name is unused and reports success.
	Register(ctx context.Context, name, password string) (bool, error)
}

// Observer collects server metrics.
// Implementations must be thread-safe as methods are called from the
// reactor goroutine and from workers.
type Observer interface {
	ObserveAccept()
	ObserveReject()
	ObserveClose()
	ObserveRequest(code int, latencyNs uint64)
	ObserveRead(bytes uint64)
	ObserveWrite(bytes uint64)
	ObserveParseError()
	ObserveTimeout()
}
