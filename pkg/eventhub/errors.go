package eventhub

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every terminal failure returned by
// Producer.Send is an *Error whose Kind is one of these sentinels, so callers
// can match with errors.Is(err, ErrConnectionLost).
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConnect        = errors.New("connect error")
	ErrConnectionLost = errors.New("connection lost")
	ErrEventData      = errors.New("event data error")
	ErrEventDataSend  = errors.New("event data send error")
	ErrProducerClosed = errors.New("producer closed")
	ErrEventHub       = errors.New("event hub error")
)

// Error is a terminal producer error. It wraps both its kind sentinel and the
// low-level cause that triggered it.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap exposes the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
