package stream

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredential      = errors.New("no credential available")
	ErrCredentialExpired = errors.New("credential expired")
	ErrIdleTimeout       = errors.New("timeout")
	ErrFrameTooLarge     = errors.New("frame exceeds size limit")
)

// AuthError reports a missing or rejected credential at open time.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stream auth failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("stream auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError reports that the exchange could not be established.
type ConnectError struct {
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stream connect failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("stream connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DecodeError describes a single frame that could not be turned into an event.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
