package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Azure/go-amqp"

	"github.com/ava-labs/eventstream/pkg/eventhub"
)

// translateError maps a go-amqp error onto the producer's transport error
// kinds. Cancellation is passed through untouched.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var te *eventhub.TransportError
	if errors.As(err, &te) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &eventhub.TransportError{Kind: eventhub.KindTimeout, Err: err}
	}

	var linkErr *amqp.LinkError
	var connErr *amqp.ConnError
	var sessionErr *amqp.SessionError
	var amqpErr *amqp.Error
	var netErr net.Error

	switch {
	case errors.As(err, &linkErr):
		return fromLinkError(linkErr)
	case errors.As(err, &connErr):
		if connErr.RemoteErr != nil && connErr.RemoteErr.Condition == amqp.ErrCondUnauthorizedAccess {
			return &eventhub.TransportError{Kind: eventhub.KindAuthentication, Description: connErr.RemoteErr.Description, Err: err}
		}
		return &eventhub.TransportError{Kind: eventhub.KindConnectionClose, Err: err}
	case errors.As(err, &sessionErr):
		return &eventhub.TransportError{Kind: eventhub.KindHandler, Err: err}
	case errors.As(err, &amqpErr):
		return fromCondition(amqpErr)
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return &eventhub.TransportError{Kind: eventhub.KindTimeout, Err: err}
		}
		return &eventhub.TransportError{Kind: eventhub.KindConnection, Description: err.Error(), Err: err}
	default:
		return &eventhub.TransportError{Kind: eventhub.KindUnknown, Err: err}
	}
}

func fromLinkError(linkErr *amqp.LinkError) error {
	remote := linkErr.RemoteErr
	if remote == nil {
		return &eventhub.TransportError{Kind: eventhub.KindLinkDetach, Description: "link closed", Err: linkErr}
	}
	switch remote.Condition {
	case amqp.ErrCondLinkRedirect:
		return &eventhub.TransportError{
			Kind:        eventhub.KindLinkRedirect,
			Description: remote.Description,
			Redirect:    redirectFromInfo(remote.Info),
			Err:         linkErr,
		}
	case amqp.ErrCondUnauthorizedAccess:
		return &eventhub.TransportError{Kind: eventhub.KindAuthentication, Description: remote.Description, Err: linkErr}
	case amqp.ErrCondMessageSizeExceeded:
		return &eventhub.TransportError{Kind: eventhub.KindMessageTooLarge, Description: remote.Description, Err: linkErr}
	default:
		return &eventhub.TransportError{Kind: eventhub.KindLinkDetach, Description: remote.Description, Err: linkErr}
	}
}

// fromCondition handles an error condition attached to a settled delivery.
func fromCondition(amqpErr *amqp.Error) error {
	kind := eventhub.KindMessageRejected
	if amqpErr.Condition == amqp.ErrCondMessageSizeExceeded {
		kind = eventhub.KindMessageTooLarge
	}
	return &eventhub.TransportError{Kind: kind, Description: amqpErr.Description, Err: amqpErr}
}

// redirectFromInfo reads the redirect target from the error info map. A
// relative address is resolved against the redirect hostname.
func redirectFromInfo(info map[string]any) *eventhub.Redirect {
	address, _ := info["address"].(string)
	hostname, _ := info["hostname"].(string)
	if hostname == "" {
		hostname, _ = info["network-host"].(string)
	}
	if address == "" {
		return nil
	}
	if !strings.Contains(address, "://") {
		if hostname == "" {
			return nil
		}
		address = fmt.Sprintf("amqps://%s/%s", hostname, strings.TrimPrefix(address, "/"))
	}
	return &eventhub.Redirect{Address: address, Hostname: hostname}
}
