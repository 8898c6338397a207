package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a transcription failure that may succeed on retry:
// network errors, timeouts, rate limiting, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transcription failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a transcription failure that retrying cannot fix:
// malformed input, payload too large, rejected credentials.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent transcription failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyHTTPStatus maps an API status code onto the error taxonomy.
// 429 and 5xx are retryable; every other non-2xx status is permanent.
func classifyHTTPStatus(status int, body string) error {
	err := fmt.Errorf("HTTP error %d: %s", status, body)
	if status == 429 || status >= 500 {
		return Transient(err)
	}
	return Permanent(err)
}

// classifyCallError maps a transport-level failure onto the error taxonomy.
// Context deadlines and network errors are transient; anything else
// (request construction, response decoding) is permanent.
func classifyCallError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient(err)
	}

	return Permanent(err)
}
