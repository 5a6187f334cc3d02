package surrealtodo

import "errors"

var (
	// ErrUnknownTask is returned when editing a task that is not in the local cache.
	ErrUnknownTask = errors.New("surrealtodo: unknown task")
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("surrealtodo: client closed")
)
