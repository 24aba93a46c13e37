package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage rejects a send whose text is blank.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrBusy rejects an operation while a reply is in flight.
	ErrBusy = errors.New("assistant reply already in flight")
	// ErrCancelled is returned by Send when Cancel ran while the stream was opening.
	ErrCancelled = errors.New("send cancelled")
)

// ProtocolError is an error frame sent by the peer.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("assistant stream failed: %s", e.Reason)
}
