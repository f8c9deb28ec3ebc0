// Package httpd implements a single-reactor, multi-worker HTTP/1.1 server
// serving static files through memory-mapped bodies, with an optional
// form-POST login/register flow backed by a pluggable user store.
package httpd

import "github.com/ehrlich-b/go-httpd/internal/interfaces"

// Re-export the collaborator interfaces for the public API. The canonical
// definitions live in internal/interfaces so internal packages can share
// them without an import cycle.

// Logger is the optional logging interface; nil disables logging.
type Logger = interfaces.Logger

// UserStore is the external collaborator behind the login/register form.
type UserStore = interfaces.UserStore

// Observer collects server metrics; nil disables collection.
type Observer = interfaces.Observer
