package eventhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/metrics"
)

const closeTimeout = 10 * time.Second

// State is the lifecycle state of a producer.
type State int

const (
	// StateIdle means no link is open: not yet opened, or torn down for a retry or redirect.
	StateIdle State = iota
	StateRunning
	// StateClosed is a close requested by the caller without an error.
	StateClosed
	// StateFailed is a close caused by an error. The first error is kept.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) closed() bool {
	return s == StateClosed || s == StateFailed
}

// Producer sends events to one Event Hub, optionally pinned to a partition.
//
// Send blocks until the service acknowledges the events or a terminal error
// occurs. Transient transport failures are retried internally: the link or
// the shared connection is torn down as the failure requires and the same
// payload is resubmitted. Only the final result reaches the caller.
//
// Sends on one producer are strictly sequential. Close is idempotent and may
// be called concurrently with Send.
type Producer struct {
	client  *Client
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	name            string
	partition       string
	sendTimeout     time.Duration
	keepAlive       time.Duration
	autoReconnect   bool
	maxRetries      int
	retryBackoff    time.Duration
	maxRetryBackoff time.Duration

	// sendMu serializes Send calls.
	sendMu sync.Mutex

	mu       sync.Mutex
	host     string
	target   string
	state    State
	link     Link
	redirect *Redirect
	closeErr *Error
	unsent   *Payload
}

// Name returns the unique producer name.
func (p *Producer) Name() string {
	return p.name
}

// Target returns the address the producer currently sends to.
func (p *Producer) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// State returns the lifecycle state.
func (p *Producer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Send sends a single event and blocks until it is acknowledged.
//
// Send returns an *Error on terminal failure (match it with errors.Is against
// ErrAuthentication, ErrConnect, ErrConnectionLost, ErrEventData,
// ErrEventDataSend, ErrProducerClosed or ErrEventHub), or ctx.Err() if ctx is
// done first. In both cases the producer is closed afterwards.
func (p *Producer) Send(ctx context.Context, event *EventData, opts ...SendOption) error {
	return p.send(ctx, []*EventData{event}, false, opts)
}

// SendBatch sends events as one batch message and blocks until it is
// acknowledged. With WithPartitionKey every event carries the same key.
func (p *Producer) SendBatch(ctx context.Context, events []*EventData, opts ...SendOption) error {
	return p.send(ctx, events, true, opts)
}

func (p *Producer) send(ctx context.Context, events []*EventData, batch bool, opts []SendOption) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if err := p.checkClosed(); err != nil {
		return err
	}
	payload, err := newPayload(events, batch, opts)
	if err != nil {
		return newError(ErrEventData, err.Error(), err)
	}

	start := time.Now()
	attempts, err := p.sendPayload(ctx, payload)
	p.metrics.RecordSend(err, attempts, time.Since(start).Seconds())
	return err
}

func (p *Producer) checkClosed() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.closed() {
		return p.closedErrorLocked("this producer has been closed, create a new producer to send event data")
	}
	return nil
}

// closedError returns ErrProducerClosed wrapping the cause the producer was
// closed with, if any.
func (p *Producer) closedError(message string) *Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closedErrorLocked(message)
}

func (p *Producer) closedErrorLocked(message string) *Error {
	if p.closeErr == nil {
		return newError(ErrProducerClosed, message, nil)
	}
	return newError(ErrProducerClosed, message, p.closeErr)
}

// sendPayload runs the retry loop for one logical send and returns the number
// of attempts made. The retry count grows by one per failed attempt whatever
// the remediation.
func (p *Producer) sendPayload(ctx context.Context, payload *Payload) (int, error) {
	p.mu.Lock()
	p.unsent = payload
	p.mu.Unlock()

	backoff := p.retryBackoff
	for retryCount := 0; ; retryCount++ {
		err := p.attempt(ctx)
		if err == nil {
			p.mu.Lock()
			p.unsent = nil
			p.mu.Unlock()
			return retryCount + 1, nil
		}

		remediation, retry, terminal := p.handleError(ctx, err, retryCount)
		if !retry {
			p.mu.Lock()
			p.unsent = nil
			p.mu.Unlock()
			return retryCount + 1, terminal
		}

		if remediation != RemediateNone && backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				p.Close(ctx.Err())
				return retryCount + 1, ctx.Err()
			}
			backoff = min(backoff*2, p.maxRetryBackoff)
		}
	}
}

// attempt opens the link if needed, resubmits the pending payload and waits
// for its outcome.
func (p *Producer) attempt(ctx context.Context) error {
	attemptCtx, cancel := p.attemptContext(ctx)
	defer cancel()

	link, err := p.open(attemptCtx)
	if err != nil {
		return p.timeoutError(ctx, err)
	}

	p.mu.Lock()
	unsent := p.unsent
	p.mu.Unlock()
	if unsent == nil {
		return nil
	}

	if err := link.Enqueue(unsent); err != nil {
		return p.keepPending(link, err)
	}
	outcome, err := link.Wait(attemptCtx)
	if err != nil {
		return p.keepPending(link, p.timeoutError(ctx, err))
	}
	unsent.SetOutcome(outcome)

	switch outcome.Status {
	case DeliveryOK:
		return nil
	case DeliveryPending:
		return &TransportError{Kind: KindTimeout, Description: "no delivery outcome received"}
	default:
		if outcome.Condition != nil {
			return outcome.Condition
		}
		return &TransportError{Kind: KindMessage, Description: "delivery failed without a condition"}
	}
}

// keepPending records the payload the link still holds after a failed
// attempt, so the next attempt resubmits exactly that payload.
func (p *Producer) keepPending(link Link, err error) error {
	if pending := link.Pending(); pending != nil {
		p.mu.Lock()
		p.unsent = pending
		p.mu.Unlock()
	}
	return err
}

func (p *Producer) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.sendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.sendTimeout)
}

// timeoutError turns the expiry of the per-attempt timeout into a transport
// timeout. Cancellation of ctx itself is left untouched.
func (p *Producer) timeoutError(ctx context.Context, err error) error {
	if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Kind: KindTimeout, Description: "send timed out", Err: err}
}

// open builds a fresh link, attaches it over the shared connection and waits
// until it is ready. It is a no-op while the producer is running.
func (p *Producer) open(ctx context.Context) (Link, error) {
	p.mu.Lock()
	if p.state.closed() {
		p.mu.Unlock()
		return nil, p.closedErrorLocked("producer closed while opening")
	}
	if p.state == StateRunning {
		link := p.link
		p.mu.Unlock()
		return link, nil
	}
	if p.redirect != nil {
		p.log.Infow("applying redirect", "from", p.target, "to", p.redirect.Address)
		p.target = p.redirect.Address
		if p.redirect.Hostname != "" {
			p.host = p.redirect.Hostname
		}
		p.redirect = nil
	}
	link := p.client.newLink(p.target, LinkOptions{
		Name:           p.name,
		SendTimeout:    p.sendTimeout,
		KeepAlive:      p.keepAlive,
		NetworkTracing: p.client.cfg.NetworkTracing,
		Properties:     p.client.linkProperties(),
	})
	p.link = link
	host, target := p.host, p.target
	p.mu.Unlock()

	conn, err := p.client.connMgr.GetConnection(ctx, host, p.client.auth())
	if err != nil {
		return nil, err
	}
	if err := link.Open(ctx, conn); err != nil {
		return nil, err
	}
	select {
	case <-link.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.closed() {
		return nil, p.closedErrorLocked("producer closed while opening")
	}
	p.state = StateRunning
	p.log.Infow("producer link opened", "target", target, "host", host)
	return link, nil
}

// Close closes the producer. It never fails and may be called any number of
// times; the first error cause is kept.
//
// cause records why the producer is closing: nil for a normal close, a link
// redirect to reopen against the new target on the next send (the producer
// stays usable), or any other error to fail later sends with ErrProducerClosed.
func (p *Producer) Close(cause error) {
	p.mu.Lock()
	link := p.link
	wasClosed := p.state.closed()
	if !wasClosed {
		var te *TransportError
		var domainErr *Error
		switch {
		case errors.As(cause, &te) && te.Kind == KindLinkRedirect && te.Redirect != nil:
			p.redirect = te.Redirect
			p.state = StateIdle
		case errors.As(cause, &domainErr):
			p.closeErr = domainErr
			p.state = StateFailed
		case cause != nil:
			p.closeErr = newError(ErrEventHub, cause.Error(), cause)
			p.state = StateFailed
		default:
			p.closeErr = newError(ErrProducerClosed, "this send handler is now closed", nil)
			p.state = StateClosed
		}
	}
	state := p.state
	p.mu.Unlock()

	if !wasClosed && state.closed() {
		p.metrics.DecProducersOpen()
		p.log.Infow("producer closed", "state", state.String(), "cause", cause)
	}

	if link == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := link.Close(ctx); err != nil {
		p.log.Warnw("failed to close link", "error", err)
	}
}
