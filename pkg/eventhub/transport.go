package eventhub

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind discriminates failures reported by a Link or a ConnectionManager.
// Transport implementations translate their native errors into one of these
// kinds so classification never depends on concrete error types.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMessageAccepted
	KindMessageAlreadySettled
	KindMessageModified
	KindMessageRejected
	KindMessageReleased
	KindMessageTooLarge
	KindMessage
	KindAuthentication
	KindLinkRedirect
	KindLinkDetach
	KindConnectionClose
	KindHandler
	KindConnection
	KindTimeout
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindMessageAccepted:       "message_accepted",
	KindMessageAlreadySettled: "message_already_settled",
	KindMessageModified:       "message_modified",
	KindMessageRejected:       "message_rejected",
	KindMessageReleased:       "message_released",
	KindMessageTooLarge:       "message_too_large",
	KindMessage:               "message",
	KindAuthentication:        "authentication",
	KindLinkRedirect:          "link_redirect",
	KindLinkDetach:            "link_detach",
	KindConnectionClose:       "connection_close",
	KindHandler:               "handler",
	KindConnection:            "connection",
	KindTimeout:               "timeout",
}

// String returns the metric/log label for the kind.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsDisposition reports whether the broker settled the message itself, or
// refused it for its size. Redelivering such a message never changes the outcome.
func (k ErrorKind) IsDisposition() bool {
	switch k {
	case KindMessageAccepted, KindMessageAlreadySettled, KindMessageModified,
		KindMessageRejected, KindMessageReleased, KindMessageTooLarge:
		return true
	default:
		return false
	}
}

// Redirect is the alternate target signalled by a link redirect.
type Redirect struct {
	Address  string
	Hostname string
}

// TransportError is the single error type a transport reports.
type TransportError struct {
	Kind        ErrorKind
	Description string
	// Redirect is set when Kind is KindLinkRedirect.
	Redirect *Redirect
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Description != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	case e.Description != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeliveryStatus is the settled state of an enqueued payload.
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota
	DeliveryOK
	DeliveryFailed
)

// Outcome is the delivery result for a payload. Condition describes the
// failure when Status is not DeliveryOK.
type Outcome struct {
	Status    DeliveryStatus
	Condition error
}

// Connection is a transport connection that may be shared by several links.
type Connection interface {
	Host() string
}

// Auth carries the credentials used to open a connection. Obtaining them is
// the caller's concern.
type Auth struct {
	KeyName string
	Key     string
}

// ConnectionManager hands out connections shared by every producer of a client.
type ConnectionManager interface {
	// GetConnection returns the live connection for host, dialing one if needed.
	GetConnection(ctx context.Context, host string, auth Auth) (Connection, error)
	// CloseConnection tears down the shared connection. Every link riding on it
	// is affected.
	CloseConnection(ctx context.Context) error
}

// LinkOptions configure a newly built link.
type LinkOptions struct {
	Name           string
	SendTimeout    time.Duration
	KeepAlive      time.Duration
	NetworkTracing bool
	Properties     map[string]any
}

// Link is a single send channel multiplexed over a shared connection.
type Link interface {
	// Open attaches the link on conn. The link is usable once Ready is closed.
	Open(ctx context.Context, conn Connection) error
	// Ready is closed when the remote end has attached the link.
	Ready() <-chan struct{}
	// Enqueue queues a payload for delivery. Enqueueing a payload that is
	// still queued is a no-op, so a retry never sends it twice.
	Enqueue(p *Payload) error
	// Wait blocks until every queued payload has an outcome, or ctx is done.
	Wait(ctx context.Context) (Outcome, error)
	// Pending returns the queued payload still lacking an outcome, if any.
	Pending() *Payload
	// Close detaches the link. It is safe to call more than once.
	Close(ctx context.Context) error
}

// LinkFactory builds a fresh, unopened link bound to target.
type LinkFactory func(target string, opts LinkOptions) Link
