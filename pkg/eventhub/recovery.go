package eventhub

import (
	"context"
	"errors"
)

// handleError classifies a failed attempt and performs the teardown it
// requires. It reports whether the send loop may try again; when it may not,
// the producer is already closed with the returned terminal error.
func (p *Producer) handleError(ctx context.Context, err error, retryCount int) (Remediation, bool, error) {
	if ctx.Err() != nil {
		p.log.Infow("producer stops due to cancellation", "error", ctx.Err())
		p.Close(ctx.Err())
		return RemediateNone, false, ctx.Err()
	}
	if errors.Is(err, ErrProducerClosed) {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			return RemediateNone, false, err
		}
		// The link was closed under a concurrent Close.
		return RemediateNone, false, p.closedError("producer closed during send")
	}

	maxRetries := p.maxRetries
	if !p.autoReconnect {
		maxRetries = 0
	}

	c := Classify(err, retryCount, maxRetries)
	if c.Interrupt {
		p.log.Infow("producer stops due to interrupt", "error", err)
		p.Close(err)
		return RemediateNone, false, err
	}

	if !c.Retry {
		switch {
		case c.Kind.IsDisposition():
			p.log.Errorw("event data error", "kind", c.Kind.String(), "error", err)
		case c.Kind == KindMessage:
			p.log.Errorw("event data send error", "error", err)
		default:
			p.log.Errorw("producer failed and exhausted retries, shutting down",
				"kind", c.Kind.String(), "attempts", retryCount+1, "error", err)
		}
		p.Close(c.Err)
		return RemediateNone, false, c.Err
	}

	p.log.Warnw("send attempt failed, retrying",
		"kind", c.Kind.String(),
		"remediation", c.Remediation.String(),
		"attempt", retryCount+1,
		"maxRetries", maxRetries,
		"error", err,
	)
	p.metrics.RecordSendRetry(c.Kind.String())

	switch c.Remediation {
	case RemediateCloseLink:
		p.closeLink()
	case RemediateCloseConnection:
		p.closeConnection(ctx)
	case RemediateRedirect:
		p.applyRedirect(c.Redirect)
	}
	p.metrics.RecordRemediation(c.Remediation.String())
	return c.Remediation, true, nil
}

// closeLink detaches the producer's link only. The shared connection stays
// up for the other producers and consumers riding on it.
func (p *Producer) closeLink() {
	p.mu.Lock()
	link := p.link
	if p.state == StateRunning {
		p.state = StateIdle
	}
	p.mu.Unlock()

	if link == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := link.Close(ctx); err != nil {
		p.log.Warnw("failed to close link", "error", err)
	}
}

// closeConnection detaches the link and tears down the shared connection.
func (p *Producer) closeConnection(ctx context.Context) {
	p.closeLink()
	if err := p.client.connMgr.CloseConnection(ctx); err != nil {
		p.log.Warnw("failed to close shared connection", "error", err)
	}
}

// applyRedirect records the redirect target and drops the link bound to the
// old address. The next open rebuilds the link against the new target.
func (p *Producer) applyRedirect(redirect *Redirect) {
	p.log.Infow("producer link redirected", "address", redirect.Address, "hostname", redirect.Hostname)
	p.mu.Lock()
	p.redirect = redirect
	p.mu.Unlock()
	p.closeLink()
}
