package lease

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/metrics"
)

// Infinite requests a lease that never expires.
const Infinite time.Duration = -time.Second

const (
	minDuration    = 15 * time.Second
	maxDuration    = 60 * time.Second
	maxBreakPeriod = 60 * time.Second

	maxErrorBody = 64 << 10
)

const (
	headerVersion         = "x-ms-version"
	headerDate            = "x-ms-date"
	headerClientRequestID = "x-ms-client-request-id"
	headerRequestID       = "x-ms-request-id"
	headerErrorCode       = "x-ms-error-code"
	headerAction          = "x-ms-lease-action"
	headerLeaseID         = "x-ms-lease-id"
	headerProposedLeaseID = "x-ms-proposed-lease-id"
	headerDuration        = "x-ms-lease-duration"
	headerBreakPeriod     = "x-ms-lease-break-period"
	headerLeaseTime       = "x-ms-lease-time"
)

// Conditions make a lease operation conditional on the resource's
// modification time or ETag. Break honours only the time conditions.
type Conditions struct {
	IfModifiedSince   *time.Time
	IfUnmodifiedSince *time.Time
	IfMatch           string
	IfNoneMatch       string
}

func (c Conditions) apply(h http.Header, action Action) {
	if c.IfModifiedSince != nil {
		h.Set("If-Modified-Since", c.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if c.IfUnmodifiedSince != nil {
		h.Set("If-Unmodified-Since", c.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
	if action == ActionBreak {
		return
	}
	if c.IfMatch != "" {
		h.Set("If-Match", c.IfMatch)
	}
	if c.IfNoneMatch != "" {
		h.Set("If-None-Match", c.IfNoneMatch)
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for lease requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAuthorizer sets a hook that signs every request before it is sent.
func WithAuthorizer(fn func(*http.Request) error) Option {
	return func(c *Client) {
		c.authorize = fn
	}
}

// WithHeldLease starts the client in the leased state, resuming a lease that
// was acquired elsewhere under the configured lease id.
func WithHeldLease() Option {
	return func(c *Client) {
		c.state = StateLeased
	}
}

// Client manages a single lease on a blob or container. Operations are
// serialized; the client tracks the lease id, ETag and last-modified time
// returned by the service and rejects transitions that cannot succeed
// before sending anything.
type Client struct {
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	url        *url.URL
	target     Target
	httpClient *http.Client
	authorize  func(*http.Request) error
	maxRetries uint64
	backoff    time.Duration
	timeout    time.Duration

	mu           sync.Mutex
	id           string
	etag         string
	lastModified time.Time
	state        State
}

// NewClient creates a lease client for the resource in cfg.
func NewClient(cfg Config, log *zap.SugaredLogger, m *metrics.Metrics, opts ...Option) (*Client, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	cfg = cfg.WithDefaults()
	u, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	id := cfg.LeaseID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidLeaseID, id, err)
	}

	c := &Client{
		log:        log.With("resource", u.Redacted(), "target", cfg.Target),
		metrics:    m,
		url:        u,
		target:     cfg.Target,
		httpClient: http.DefaultClient,
		maxRetries: *cfg.MaxRetries,
		backoff:    *cfg.RetryBackoff,
		timeout:    *cfg.RequestTimeout,
		id:         id,
		state:      StateAvailable,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == StateLeased && cfg.LeaseID == "" {
		return nil, fmt.Errorf("%w: resuming a held lease requires its lease id", ErrInvalidLeaseID)
	}
	return c, nil
}

// ID returns the current lease id.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// ETag returns the resource ETag from the last successful operation.
func (c *Client) ETag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.etag
}

// LastModified returns the resource modification time from the last
// successful operation.
func (c *Client) LastModified() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModified
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Acquire requests a lease of the given duration: Infinite, or whole seconds
// between 15 and 60.
func (c *Client) Acquire(ctx context.Context, duration time.Duration, cond Conditions) error {
	if err := validateDuration(duration); err != nil {
		return err
	}
	_, err := c.do(ctx, ActionAcquire, cond, http.StatusCreated, func(h http.Header, id string) {
		h.Set(headerDuration, strconv.FormatInt(int64(duration/time.Second), 10))
		h.Set(headerProposedLeaseID, id)
	})
	return err
}

// Renew resets the lease duration clock.
func (c *Client) Renew(ctx context.Context, cond Conditions) error {
	_, err := c.do(ctx, ActionRenew, cond, http.StatusOK, setLeaseID)
	return err
}

// Release frees the lease so another client can acquire it immediately.
func (c *Client) Release(ctx context.Context, cond Conditions) error {
	_, err := c.do(ctx, ActionRelease, cond, http.StatusOK, setLeaseID)
	return err
}

// Change replaces the id of the active lease with proposedID, which must be
// a UUID.
func (c *Client) Change(ctx context.Context, proposedID string, cond Conditions) error {
	if _, err := uuid.Parse(proposedID); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidLeaseID, proposedID, err)
	}
	h, err := c.do(ctx, ActionChange, cond, http.StatusOK, func(h http.Header, id string) {
		h.Set(headerLeaseID, id)
		h.Set(headerProposedLeaseID, proposedID)
	})
	if err != nil {
		return err
	}
	if h.Get(headerLeaseID) == "" {
		c.mu.Lock()
		c.id = proposedID
		c.mu.Unlock()
	}
	return nil
}

// Break ends the lease after period, or after the time remaining on the lease
// when that is shorter. A nil period uses the service default. It returns
// the time until a new lease can be acquired.
func (c *Client) Break(ctx context.Context, period *time.Duration, cond Conditions) (time.Duration, error) {
	if period != nil && (*period < 0 || *period > maxBreakPeriod || *period%time.Second != 0) {
		return 0, fmt.Errorf("%w: break period %s must be whole seconds between 0s and %s", ErrInvalidDuration, *period, maxBreakPeriod)
	}
	h, err := c.do(ctx, ActionBreak, cond, http.StatusAccepted, func(h http.Header, _ string) {
		if period != nil {
			h.Set(headerBreakPeriod, strconv.FormatInt(int64(*period/time.Second), 10))
		}
	})
	if err != nil {
		return 0, err
	}
	secs, err := strconv.Atoi(h.Get(headerLeaseTime))
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q: %w", headerLeaseTime, h.Get(headerLeaseTime), err)
	}
	return time.Duration(secs) * time.Second, nil
}

// Close releases the lease if it is still held.
func (c *Client) Close(ctx context.Context) error {
	if c.State() != StateLeased {
		return nil
	}
	return c.Release(ctx, Conditions{})
}

func setLeaseID(h http.Header, id string) {
	h.Set(headerLeaseID, id)
}

func validateDuration(d time.Duration) error {
	if d == Infinite {
		return nil
	}
	if d < minDuration || d > maxDuration || d%time.Second != 0 {
		return fmt.Errorf("%w: %s must be infinite or whole seconds between %s and %s", ErrInvalidDuration, d, minDuration, maxDuration)
	}
	return nil
}

// do runs one lease operation under the client lock and applies the
// resulting state on success.
func (c *Client) do(ctx context.Context, action Action, cond Conditions, want int, set func(http.Header, string)) (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	to, err := next(c.state, action)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	h, err := c.send(ctx, action, cond, want, func(h http.Header) { set(h, c.id) })
	c.metrics.RecordLeaseOperation(string(action), err, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrLeaseNotPresent) || errors.Is(err, ErrLeaseLost) {
			c.state = StateAvailable
		}
		c.log.Warnw("lease operation failed", "action", action, "leaseID", c.id, "error", err)
		return nil, err
	}

	if id := h.Get(headerLeaseID); id != "" {
		c.id = id
	}
	if etag := h.Get("ETag"); etag != "" {
		c.etag = etag
	}
	if lm, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		c.lastModified = lm
	}
	c.state = to
	c.log.Infow("lease operation succeeded", "action", action, "leaseID", c.id, "state", to)
	return h, nil
}

// send issues the request, retrying throttled and server-side failures with
// exponential backoff.
func (c *Client) send(ctx context.Context, action Action, cond Conditions, want int, set func(http.Header)) (http.Header, error) {
	var header http.Header
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		h, err := c.roundTrip(ctx, action, cond, want, set)
		if err == nil {
			header = h
			return nil
		}
		var re *ResponseError
		if (errors.As(err, &re) && !re.transient()) || ctx.Err() != nil {
			return err
		}
		c.log.Debugw("retrying lease operation", "action", action, "error", err)
		return retry.RetryableError(err)
	})
	return header, err
}

func (c *Client) roundTrip(ctx context.Context, action Action, cond Conditions, want int, set func(http.Header)) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build lease request: %w", err)
	}
	req.Header.Set(headerVersion, APIVersion)
	req.Header.Set(headerDate, time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set(headerClientRequestID, uuid.NewString())
	req.Header.Set(headerAction, string(action))
	set(req.Header)
	cond.apply(req.Header, action)

	if c.authorize != nil {
		if err := c.authorize(req); err != nil {
			return nil, fmt.Errorf("failed to authorize lease request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lease %s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return nil, responseError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header, nil
}

func (c *Client) requestURL() string {
	u := *c.url
	q := u.Query()
	q.Set("comp", "lease")
	if c.target == TargetContainer {
		q.Set("restype", "container")
	}
	if secs := int64(c.timeout / time.Second); secs > 0 {
		q.Set("timeout", strconv.FormatInt(secs, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type storageError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// responseError builds a ResponseError from the error code header, falling
// back to the XML error body.
func responseError(resp *http.Response) *ResponseError {
	re := &ResponseError{
		StatusCode: resp.StatusCode,
		Code:       resp.Header.Get(headerErrorCode),
		RequestID:  resp.Header.Get(headerRequestID),
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return re
	}
	var se storageError
	if xml.Unmarshal(body, &se) == nil {
		if re.Code == "" {
			re.Code = se.Code
		}
		re.Message = se.Message
	}
	return re
}
