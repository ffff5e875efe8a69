package eventhub

import "errors"

// ErrEmptyBatch is returned by SendBatch when no events are given.
var ErrEmptyBatch = errors.New("batch contains no events")

// EventData is a single event sent to an Event Hub.
type EventData struct {
	Body       []byte
	Properties map[string]any

	partitionKey string
}

// NewEventData returns an event carrying body.
func NewEventData(body []byte) *EventData {
	return &EventData{Body: body}
}

// PartitionKey returns the key stamped on the event by a send, if any.
func (e *EventData) PartitionKey() string {
	return e.partitionKey
}

// Payload is the unit enqueued on a link: a single event, or a batch of
// events delivered as one message.
type Payload struct {
	Events       []*EventData
	Batch        bool
	PartitionKey string

	outcome Outcome
}

// Outcome returns the delivery result recorded for the payload.
func (p *Payload) Outcome() Outcome {
	return p.outcome
}

// SetOutcome records the delivery result. Transports call it when the remote
// end settles the payload.
func (p *Payload) SetOutcome(o Outcome) {
	p.outcome = o
}

type sendOptions struct {
	partitionKey string
}

// SendOption configures a single Send or SendBatch call.
type SendOption func(*sendOptions)

// WithPartitionKey routes the events to the partition the service picks for key.
func WithPartitionKey(key string) SendOption {
	return func(o *sendOptions) {
		o.partitionKey = key
	}
}

// newPayload stamps the partition key onto every event, then materializes the
// payload so all of its events share one key.
func newPayload(events []*EventData, batch bool, opts []SendOption) (*Payload, error) {
	var so sendOptions
	for _, opt := range opts {
		opt(&so)
	}
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, e := range events {
		if e == nil {
			return nil, errors.New("nil event")
		}
		if so.partitionKey != "" {
			e.partitionKey = so.partitionKey
		}
	}
	stamped := make([]*EventData, len(events))
	copy(stamped, events)
	return &Payload{
		Events:       stamped,
		Batch:        batch,
		PartitionKey: so.partitionKey,
	}, nil
}
