package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Server errors
	ErrServerNotFound     = fmt.Errorf("server not found")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidServerURL   = fmt.Errorf("invalid server URL")
	ErrNotConnected       = fmt.Errorf("server not connected")

	// Operation errors
	ErrOperationCancelled = fmt.Errorf("operation cancelled")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrNotSupported       = fmt.Errorf("feature not supported by server")

	// Graph errors
	ErrEntityNotFound = fmt.Errorf("entity not found")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
