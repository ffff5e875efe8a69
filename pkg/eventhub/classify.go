package eventhub

import (
	"context"
	"errors"
	"strings"
)

// authSessionPrefix marks connection errors raised while opening the
// authentication session. They are reported as authentication failures.
const authSessionPrefix = "Unable to open authentication session"

// Remediation is the resource teardown required before a retry.
type Remediation int

const (
	// RemediateNone retries on the same link.
	RemediateNone Remediation = iota
	// RemediateCloseLink detaches the link and keeps the shared connection.
	RemediateCloseLink
	// RemediateCloseConnection detaches the link and tears down the shared connection.
	RemediateCloseConnection
	// RemediateRedirect rebuilds the link against the redirect target.
	RemediateRedirect
)

func (r Remediation) String() string {
	switch r {
	case RemediateNone:
		return "none"
	case RemediateCloseLink:
		return "close_link"
	case RemediateCloseConnection:
		return "close_connection"
	case RemediateRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Classification is the verdict for one failed send attempt.
type Classification struct {
	Kind ErrorKind
	// Interrupt is set when the caller cancelled; the error is not retried
	// and not translated.
	Interrupt bool
	// Retry reports whether another attempt is allowed.
	Retry       bool
	Remediation Remediation
	Redirect    *Redirect
	// Err is the terminal error returned to the caller when Retry is false.
	Err *Error
}

// Classify maps a transport failure to a classification. retryCount is the
// number of attempts that already failed before this one.
//
// Rules, in order:
//   - cancellation is an interrupt and is never retried,
//   - broker dispositions and oversized messages are data errors, never retried,
//   - any other message-level failure is a send error, never retried,
//   - once retryCount reaches maxRetries the kind decides the terminal error,
//   - otherwise the kind decides the remediation and the attempt is retried.
func Classify(err error, retryCount, maxRetries int) Classification {
	if errors.Is(err, context.Canceled) {
		return Classification{Interrupt: true}
	}

	kind := KindUnknown
	var te *TransportError
	if errors.As(err, &te) {
		kind = te.Kind
	}
	c := Classification{Kind: kind}

	switch {
	case kind.IsDisposition():
		c.Err = newError(ErrEventData, err.Error(), err)
		return c
	case kind == KindMessage:
		c.Err = newError(ErrEventDataSend, err.Error(), err)
		return c
	case retryCount >= maxRetries:
		c.Err = exhaustedError(kind, te, err)
		return c
	}

	c.Retry = true
	switch kind {
	case KindLinkRedirect:
		c.Remediation = RemediateRedirect
		if te != nil {
			c.Redirect = te.Redirect
		}
		if c.Redirect == nil {
			// A redirect without a target cannot be honored; rebuild the connection instead.
			c.Remediation = RemediateCloseConnection
		}
	case KindLinkDetach:
		c.Remediation = RemediateCloseLink
	case KindTimeout:
		c.Remediation = RemediateNone
	default:
		// Authentication, connection close, handler, connection and unknown failures.
		c.Remediation = RemediateCloseConnection
	}
	return c
}

func exhaustedError(kind ErrorKind, te *TransportError, err error) *Error {
	switch kind {
	case KindAuthentication:
		return newError(ErrAuthentication, err.Error(), err)
	case KindLinkDetach, KindConnectionClose, KindHandler, KindTimeout:
		return newError(ErrConnectionLost, err.Error(), err)
	case KindConnection:
		if te != nil && strings.HasPrefix(te.Description, authSessionPrefix) {
			return newError(ErrAuthentication, err.Error(), err)
		}
		return newError(ErrConnect, err.Error(), err)
	default:
		return newError(ErrEventHub, "send failed: "+err.Error(), err)
	}
}
