package domain

import "errors"

// Domain errors
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTransport          = errors.New("transport error")
	ErrPageOutOfRange     = errors.New("page out of range")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrViewerNotFound     = errors.New("viewer not found")
	ErrViewerClosed       = errors.New("viewer closed")
	ErrInvalidFile        = errors.New("invalid file")
	ErrFileTooLarge       = errors.New("file exceeds maximum size")
	ErrNoDraft            = errors.New("no draft note open")
	ErrNoSelection        = errors.New("no pending selection")
	ErrExportUnavailable  = errors.New("export requires an authenticated remote document")
)

// ValidationError represents a validation error with field and message information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}
