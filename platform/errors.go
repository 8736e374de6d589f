package platform

import (
	"errors"
	"fmt"
)

// ErrAuth is returned when the platform rejects the agent's credentials.
// It is terminal: the Link never retries after seeing it, and callers should
// treat it as fatal for the whole process.
var ErrAuth = errors.New("platform: credentials rejected")

// ErrNotConnected is returned by websocket operations attempted before
// Connect has succeeded or after Close.
var ErrNotConnected = errors.New("platform: not connected")

// TransportError wraps a network-level failure. The Link retries these with
// backoff; rooms see no effect other than delayed delivery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlatformError is a well-formed request rejected by platform-side
// validation. Code is the platform error code (for example
// "invalid_participant"); StatusCode is the HTTP status.
type PlatformError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
}

// IsPlatformCode reports whether err is a PlatformError with the given code.
func IsPlatformCode(err error, code string) bool {
	var pe *PlatformError
	return errors.As(err, &pe) && pe.Code == code
}
