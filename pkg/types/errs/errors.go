package errs

import "errors"

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrNoEventAvailable  = errors.New("no event available")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrShutdownTimeout   = errors.New("shutdown timeout exceeded")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)

// PermanentError marks a processing failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the worker dead-letters the event right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
