package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Body state errors
	ErrNotReadable = errors.New("jms: message body is not readable")
	ErrNotWritable = errors.New("jms: message is not writable")

	// Body content errors
	ErrFormatMismatch = errors.New("jms: message format mismatch")
	ErrUnexpectedEnd  = errors.New("jms: unexpected end of message body")

	// API usage errors
	ErrInvalidArgument      = errors.New("jms: invalid argument")
	ErrUnsupportedOperation = errors.New("jms: unsupported operation")
	ErrIllegalState         = errors.New("jms: illegal state")
	ErrInvalidDestination   = errors.New("jms: invalid destination")
)

// OperationError records the operation and resource an error surfaced from
type OperationError struct {
	Op        string    // Operation that failed
	Resource  string    // Consumer, producer or session identifier
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *OperationError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("jms: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("jms: %s failed on %s: %v", e.Op, e.Resource, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError wraps err with the failing operation
func NewOperationError(op, resource string, err error) error {
	return &OperationError{
		Op:        op,
		Resource:  resource,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Closed returns an IllegalState error for an operation on a closed resource
func Closed(op, resource string) error {
	return NewOperationError(op, resource, fmt.Errorf("%w: %s is closed", ErrIllegalState, resource))
}

// IsClientError reports whether err stems from caller misuse rather than a transport failure
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnsupportedOperation),
		errors.Is(err, ErrIllegalState),
		errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrNotReadable),
		errors.Is(err, ErrNotWritable),
		errors.Is(err, ErrFormatMismatch),
		errors.Is(err, ErrUnexpectedEnd):
		return true
	}
	return false
}
