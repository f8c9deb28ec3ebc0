package httpd

import "github.com/ehrlich-b/go-httpd/internal/constants"

// Re-export constants for public API
const (
	DefaultPort        = constants.DefaultPort
	DefaultWorkers     = constants.DefaultWorkers
	DefaultTaskBacklog = constants.DefaultTaskBacklog
	DefaultTimeout     = constants.DefaultTimeout
	DefaultSQLPoolSize = constants.DefaultSQLPoolSize
	MaxOpenConns       = constants.MaxOpenConns
)
