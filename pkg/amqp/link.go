package amqp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/Azure/go-amqp"
	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/eventhub"
)

const (
	// batchMessageFormat marks a message whose data sections are each an encoded message.
	batchMessageFormat uint32 = 0x80013700

	partitionKeyAnnotation = "x-opt-partition-key"
)

var errLinkNotOpen = errors.New("link is not open")

// Link is an AMQP sender link implementing eventhub.Link.
type Link struct {
	log    *zap.SugaredLogger
	target string
	opts   eventhub.LinkOptions
	ready  chan struct{}

	mu      sync.Mutex
	session *amqp.Session
	sender  *amqp.Sender
	queue   []*eventhub.Payload
	closed  bool
}

// NewLinkFactory returns an eventhub.LinkFactory building AMQP sender links.
func NewLinkFactory(log *zap.SugaredLogger) eventhub.LinkFactory {
	return func(target string, opts eventhub.LinkOptions) eventhub.Link {
		return NewLink(log, target, opts)
	}
}

// NewLink returns an unopened link bound to target.
func NewLink(log *zap.SugaredLogger, target string, opts eventhub.LinkOptions) *Link {
	return &Link{
		log:    log.With("link", opts.Name),
		target: target,
		opts:   opts,
		ready:  make(chan struct{}),
	}
}

// Open begins a session on conn and attaches the sender. Ready is closed once
// the service has acknowledged the attach.
func (l *Link) Open(ctx context.Context, conn eventhub.Connection) error {
	c, ok := conn.(*connection)
	if !ok {
		return fmt.Errorf("unsupported connection type %T", conn)
	}
	path, err := entityPath(l.target)
	if err != nil {
		return err
	}

	session, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return translateError(fmt.Errorf("failed to begin session: %w", err))
	}
	sender, err := session.NewSender(ctx, path, &amqp.SenderOptions{
		Name:       l.opts.Name,
		Properties: l.opts.Properties,
	})
	if err != nil {
		_ = session.Close(context.Background())
		return translateError(fmt.Errorf("failed to attach sender: %w", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = sender.Close(context.Background())
		_ = session.Close(context.Background())
		return eventhub.ErrProducerClosed
	}
	l.session = session
	l.sender = sender
	close(l.ready)

	l.log.Debugw("link attached", "target", l.target, "path", path)
	return nil
}

func (l *Link) Ready() <-chan struct{} {
	return l.ready
}

// Enqueue appends p to the send queue. A payload already queued, such as one
// left at the head by a failed Wait, keeps its place and is not queued twice.
func (l *Link) Enqueue(p *eventhub.Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return eventhub.ErrProducerClosed
	}
	if slices.Contains(l.queue, p) {
		return nil
	}
	l.queue = append(l.queue, p)
	return nil
}

// Wait sends every queued payload in order. A payload is dequeued only once
// the service settles it; a failed send leaves it at the head of the queue.
func (l *Link) Wait(ctx context.Context) (eventhub.Outcome, error) {
	ok := eventhub.Outcome{Status: eventhub.DeliveryOK}
	for {
		l.mu.Lock()
		sender := l.sender
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return ok, nil
		}
		p := l.queue[0]
		l.mu.Unlock()

		if sender == nil {
			return eventhub.Outcome{}, &eventhub.TransportError{Kind: eventhub.KindLinkDetach, Err: errLinkNotOpen}
		}

		msg, err := toMessage(p)
		if err != nil {
			return eventhub.Outcome{}, &eventhub.TransportError{Kind: eventhub.KindMessage, Description: "failed to encode payload", Err: err}
		}
		if l.opts.NetworkTracing {
			l.log.Debugw("sending message", "events", len(p.Events), "batch", p.Batch, "partitionKey", p.PartitionKey)
		}

		receipt, err := sender.SendWithReceipt(ctx, msg, nil)
		if err != nil {
			return l.sendFailed(p, err)
		}
		state, err := receipt.Wait(ctx)
		if err != nil {
			return l.sendFailed(p, err)
		}

		outcome := outcomeFromState(state)
		p.SetOutcome(outcome)
		l.dequeue(p)
		if outcome.Status != eventhub.DeliveryOK {
			l.log.Debugw("message not accepted", "events", len(p.Events), "condition", outcome.Condition)
			return outcome, nil
		}
		if l.opts.NetworkTracing {
			l.log.Debugw("message accepted", "events", len(p.Events))
		}
	}
}

// sendFailed translates a failed transfer. A delivery the service settled
// itself is dequeued with a failed outcome; anything else keeps p queued.
func (l *Link) sendFailed(p *eventhub.Payload, err error) (eventhub.Outcome, error) {
	translated := translateError(err)
	var te *eventhub.TransportError
	if errors.As(translated, &te) && te.Kind.IsDisposition() {
		outcome := eventhub.Outcome{Status: eventhub.DeliveryFailed, Condition: te}
		p.SetOutcome(outcome)
		l.dequeue(p)
		return outcome, nil
	}
	return eventhub.Outcome{}, translated
}

// outcomeFromState maps the terminal delivery state reported by the service.
// Only an accepted delivery succeeds.
func outcomeFromState(state amqp.DeliveryState) eventhub.Outcome {
	failed := func(kind eventhub.ErrorKind, description string) eventhub.Outcome {
		return eventhub.Outcome{
			Status:    eventhub.DeliveryFailed,
			Condition: &eventhub.TransportError{Kind: kind, Description: description},
		}
	}

	switch st := state.(type) {
	case nil, *amqp.StateAccepted:
		return eventhub.Outcome{Status: eventhub.DeliveryOK}
	case *amqp.StateRejected:
		if st.Error == nil {
			return failed(eventhub.KindMessageRejected, "rejected without an error")
		}
		return eventhub.Outcome{Status: eventhub.DeliveryFailed, Condition: fromCondition(st.Error)}
	case *amqp.StateReleased:
		return failed(eventhub.KindMessageReleased, "released by the service")
	case *amqp.StateModified:
		return failed(eventhub.KindMessageModified,
			fmt.Sprintf("modified by the service (delivery failed: %t, undeliverable here: %t)", st.DeliveryFailed, st.UndeliverableHere))
	default:
		return failed(eventhub.KindMessage, fmt.Sprintf("unexpected delivery state %T", state))
	}
}

func (l *Link) dequeue(p *eventhub.Payload) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) > 0 && l.queue[0] == p {
		l.queue = l.queue[1:]
	}
}

func (l *Link) Pending() *eventhub.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

// Close detaches the sender and ends its session. Queued payloads are kept so
// Pending still reports them.
func (l *Link) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sender, session := l.sender, l.session
	l.sender, l.session = nil, nil
	l.mu.Unlock()

	var errs []error
	if sender != nil {
		if err := sender.Close(ctx); err != nil && !isAlreadyClosed(err) {
			errs = append(errs, fmt.Errorf("failed to detach sender: %w", err))
		}
	}
	if session != nil {
		if err := session.Close(ctx); err != nil && !isAlreadyClosed(err) {
			errs = append(errs, fmt.Errorf("failed to end session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// isAlreadyClosed reports whether err only says the link, session or
// connection had already gone away.
func isAlreadyClosed(err error) bool {
	var linkErr *amqp.LinkError
	var sessionErr *amqp.SessionError
	var connErr *amqp.ConnError
	return errors.As(err, &linkErr) || errors.As(err, &sessionErr) || errors.As(err, &connErr)
}

// entityPath returns the AMQP node address for an Event Hub target URL,
// e.g. "hub" or "hub/Partitions/0".
func entityPath(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", target, err)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("target %q has no entity path", target)
	}
	return path, nil
}

// toMessage encodes a payload. A batch becomes one message whose data sections
// each hold an encoded event; the partition key rides on the outer message.
func toMessage(p *eventhub.Payload) (*amqp.Message, error) {
	if len(p.Events) == 0 {
		return nil, eventhub.ErrEmptyBatch
	}

	var msg *amqp.Message
	if !p.Batch && len(p.Events) == 1 {
		msg = eventMessage(p.Events[0], p.PartitionKey)
	} else {
		msg = &amqp.Message{Format: batchMessageFormat}
		for _, e := range p.Events {
			data, err := eventMessage(e, p.PartitionKey).MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("failed to encode event: %w", err)
			}
			msg.Data = append(msg.Data, data)
		}
	}

	if p.PartitionKey != "" {
		msg.Annotations = amqp.Annotations{partitionKeyAnnotation: p.PartitionKey}
	}
	return msg, nil
}

func eventMessage(e *eventhub.EventData, partitionKey string) *amqp.Message {
	msg := amqp.NewMessage(e.Body)
	if len(e.Properties) > 0 {
		msg.ApplicationProperties = e.Properties
	}
	if partitionKey != "" {
		msg.Annotations = amqp.Annotations{partitionKeyAnnotation: partitionKey}
	}
	return msg
}
