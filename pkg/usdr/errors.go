package usdr

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a session after Close.
	ErrClosed = errors.New("usdr: session closed")

	// ErrBufferTooSmall is matched by BufferTooSmallError.
	ErrBufferTooSmall = errors.New("usdr: buffer too small")
)

// DriverError is a negative status returned by the driver. Op names the
// session step that failed; Text is whatever the driver's own lookup has
// for Code, and may be empty.
type DriverError struct {
	Op   string
	Code int
	Text string
}

func (e *DriverError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("usdr error in %s: %d: %s", e.Op, e.Code, e.Text)
	}
	return fmt.Sprintf("usdr error in %s: %d", e.Op, e.Code)
}

// IsCode reports whether err is a DriverError carrying code.
func IsCode(err error, code int) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Code == code
}

// OpOf returns the failed step of a DriverError, or "".
func OpOf(err error) string {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Op
	}
	return ""
}

type BufferTooSmallError struct {
	Required int
	Provided int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("usdr: buffer too small: need %d bytes, got %d", e.Required, e.Provided)
}

func (e *BufferTooSmallError) Is(target error) bool {
	return target == ErrBufferTooSmall
}
