// Package eventhub sends events to Azure Event Hubs with automatic recovery
// from transport failures.
//
// A Client owns a ConnectionManager whose connection is shared by every
// Producer it creates. Each Producer owns one Link built by the client's
// LinkFactory. Producer.Send blocks until the payload is acknowledged;
// failures reported by the transport as *TransportError are classified by
// Classify and remediated before the same payload is resubmitted:
//
//   - link detach: only the link is closed,
//   - authentication, connection and handler failures: the shared connection is torn down,
//   - link redirect: the link is rebuilt against the redirect target,
//   - timeout: the attempt is simply repeated.
//
// Broker dispositions (rejected, released, modified, already settled) and
// oversized messages are never retried. Once the retry budget is spent the
// producer closes with a terminal *Error and every later Send fails fast with
// ErrProducerClosed.
package eventhub
