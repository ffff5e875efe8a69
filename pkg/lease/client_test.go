package lease

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ava-labs/eventstream/pkg/metrics"
)

const (
	testETag     = `"0x8D0000000000001"`
	testModified = "Mon, 19 Oct 2026 10:00:00 GMT"
)

// reply is a scripted response from fakeStorage.
type reply struct {
	status int
	code   string
	body   string
}

// fakeStorage is a minimal lease endpoint. Scripted replies are served first;
// after that every request succeeds with the status its action expects.
type fakeStorage struct {
	mu       sync.Mutex
	script   []reply
	requests []*http.Request
}

func (f *fakeStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(r.Context()))
	var rep *reply
	if len(f.script) > 0 {
		rep = &f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	if rep != nil {
		if rep.code != "" {
			w.Header().Set(headerErrorCode, rep.code)
		}
		w.Header().Set(headerRequestID, "req-1")
		w.WriteHeader(rep.status)
		fmt.Fprint(w, rep.body)
		return
	}

	w.Header().Set("ETag", testETag)
	w.Header().Set("Last-Modified", testModified)
	switch Action(r.Header.Get(headerAction)) {
	case ActionAcquire:
		w.Header().Set(headerLeaseID, r.Header.Get(headerProposedLeaseID))
		w.WriteHeader(http.StatusCreated)
	case ActionRenew:
		w.Header().Set(headerLeaseID, r.Header.Get(headerLeaseID))
		w.WriteHeader(http.StatusOK)
	case ActionChange:
		w.Header().Set(headerLeaseID, r.Header.Get(headerProposedLeaseID))
		w.WriteHeader(http.StatusOK)
	case ActionRelease:
		w.WriteHeader(http.StatusOK)
	case ActionBreak:
		period := r.Header.Get(headerBreakPeriod)
		if period == "" {
			period = "0"
		}
		w.Header().Set(headerLeaseTime, period)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeStorage) last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, cfg Config, replies ...reply) (*Client, *fakeStorage) {
	t.Helper()
	storage := &fakeStorage{script: replies}
	srv := httptest.NewServer(storage)
	t.Cleanup(srv.Close)

	if cfg.URL == "" {
		cfg.URL = srv.URL + "/container/blob.txt?sig=secret"
	}
	backoff := time.Millisecond
	cfg.RetryBackoff = &backoff

	c, err := NewClient(cfg, zaptest.NewLogger(t).Sugar(), nil, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, storage
}

func TestClient_Acquire(t *testing.T) {
	leaseID := uuid.NewString()
	c, storage := newTestClient(t, Config{LeaseID: leaseID})

	require.NoError(t, c.Acquire(t.Context(), 30*time.Second, Conditions{}))

	req := storage.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "lease", req.URL.Query().Get("comp"))
	assert.Equal(t, "secret", req.URL.Query().Get("sig"))
	assert.Empty(t, req.URL.Query().Get("restype"))
	assert.Equal(t, "acquire", req.Header.Get(headerAction))
	assert.Equal(t, "30", req.Header.Get(headerDuration))
	assert.Equal(t, leaseID, req.Header.Get(headerProposedLeaseID))
	assert.Equal(t, APIVersion, req.Header.Get(headerVersion))
	assert.NotEmpty(t, req.Header.Get(headerClientRequestID))

	assert.Equal(t, StateLeased, c.State())
	assert.Equal(t, leaseID, c.ID())
	assert.Equal(t, testETag, c.ETag())
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC), c.LastModified())
}

func TestClient_AcquireInfiniteContainer(t *testing.T) {
	c, storage := newTestClient(t, Config{Target: TargetContainer})

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))

	req := storage.last()
	assert.Equal(t, "-1", req.Header.Get(headerDuration))
	assert.Equal(t, "container", req.URL.Query().Get("restype"))
	_, err := uuid.Parse(c.ID())
	assert.NoError(t, err, "a random lease id is proposed when none is configured")
}

func TestClient_AcquireInvalidDuration(t *testing.T) {
	c, storage := newTestClient(t, Config{})

	for _, d := range []time.Duration{0, 10 * time.Second, 61 * time.Second, 15500 * time.Millisecond} {
		require.ErrorIs(t, c.Acquire(t.Context(), d, Conditions{}), ErrInvalidDuration, d.String())
	}
	require.Zero(t, storage.count(), "invalid durations must be rejected before any request")
}

func TestClient_Lifecycle(t *testing.T) {
	c, storage := newTestClient(t, Config{})
	ctx := t.Context()

	require.NoError(t, c.Acquire(ctx, 15*time.Second, Conditions{}))
	first := c.ID()

	require.NoError(t, c.Renew(ctx, Conditions{}))
	assert.Equal(t, first, storage.last().Header.Get(headerLeaseID))

	proposed := uuid.NewString()
	require.NoError(t, c.Change(ctx, proposed, Conditions{}))
	assert.Equal(t, first, storage.last().Header.Get(headerLeaseID))
	assert.Equal(t, proposed, storage.last().Header.Get(headerProposedLeaseID))
	assert.Equal(t, proposed, c.ID())

	require.NoError(t, c.Release(ctx, Conditions{}))
	assert.Equal(t, proposed, storage.last().Header.Get(headerLeaseID))
	assert.Equal(t, StateReleased, c.State())

	require.NoError(t, c.Acquire(ctx, Infinite, Conditions{}))
	assert.Equal(t, StateLeased, c.State())
}

func TestClient_InvalidTransitions(t *testing.T) {
	c, storage := newTestClient(t, Config{})
	ctx := t.Context()

	require.ErrorIs(t, c.Renew(ctx, Conditions{}), ErrInvalidTransition)
	require.ErrorIs(t, c.Release(ctx, Conditions{}), ErrInvalidTransition)
	require.ErrorIs(t, c.Change(ctx, uuid.NewString(), Conditions{}), ErrInvalidTransition)
	require.Zero(t, storage.count())

	require.NoError(t, c.Acquire(ctx, Infinite, Conditions{}))
	require.ErrorIs(t, c.Acquire(ctx, Infinite, Conditions{}), ErrInvalidTransition)

	_, err := c.Break(ctx, nil, Conditions{})
	require.NoError(t, err)
	require.ErrorIs(t, c.Renew(ctx, Conditions{}), ErrInvalidTransition)
	require.NoError(t, c.Release(ctx, Conditions{}))
}

func TestClient_ChangeInvalidID(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))

	require.ErrorIs(t, c.Change(t.Context(), "not-a-uuid", Conditions{}), ErrInvalidLeaseID)
	require.Equal(t, StateLeased, c.State())
}

func TestClient_Break(t *testing.T) {
	c, storage := newTestClient(t, Config{})
	ctx := t.Context()
	require.NoError(t, c.Acquire(ctx, Infinite, Conditions{}))

	period := 10 * time.Second
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	remaining, err := c.Break(ctx, &period, Conditions{IfModifiedSince: &since, IfMatch: testETag})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, remaining)
	assert.Equal(t, StateBroken, c.State())

	req := storage.last()
	assert.Equal(t, "10", req.Header.Get(headerBreakPeriod))
	assert.Equal(t, "Fri, 02 Jan 2026 03:04:05 GMT", req.Header.Get("If-Modified-Since"))
	assert.Empty(t, req.Header.Get("If-Match"), "break ignores ETag conditions")
	assert.Empty(t, req.Header.Get(headerLeaseID))

	tooLong := 61 * time.Second
	_, err = c.Break(ctx, &tooLong, Conditions{})
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestClient_Conditions(t *testing.T) {
	c, storage := newTestClient(t, Config{})
	since := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{
		IfUnmodifiedSince: &since,
		IfMatch:           testETag,
		IfNoneMatch:       "*",
	}))

	req := storage.last()
	assert.Equal(t, "Wed, 04 Mar 2026 04:06:07 GMT", req.Header.Get("If-Unmodified-Since"))
	assert.Equal(t, testETag, req.Header.Get("If-Match"))
	assert.Equal(t, "*", req.Header.Get("If-None-Match"))
}

func TestClient_ResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		reply    reply
		wantKind error
		wantCode string
		wantMsg  string
	}{
		{
			name:     "code header",
			reply:    reply{status: http.StatusConflict, code: "LeaseAlreadyPresent"},
			wantKind: ErrLeaseConflict,
			wantCode: "LeaseAlreadyPresent",
		},
		{
			name: "xml body",
			reply: reply{
				status: http.StatusPreconditionFailed,
				body:   `<?xml version="1.0" encoding="utf-8"?><Error><Code>ConditionNotMet</Code><Message>The condition specified was not met.</Message></Error>`,
			},
			wantKind: ErrConditionNotMet,
			wantCode: "ConditionNotMet",
			wantMsg:  "The condition specified was not met.",
		},
		{
			name:     "unknown code falls back to status",
			reply:    reply{status: http.StatusNotFound, code: "SomethingElse"},
			wantKind: ErrNotFound,
			wantCode: "SomethingElse",
		},
		{
			name:     "bad request",
			reply:    reply{status: http.StatusBadRequest},
			wantKind: ErrService,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, storage := newTestClient(t, Config{}, tt.reply)

			err := c.Acquire(t.Context(), Infinite, Conditions{})
			require.ErrorIs(t, err, tt.wantKind)

			var re *ResponseError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.reply.status, re.StatusCode)
			assert.Equal(t, tt.wantCode, re.Code)
			assert.Equal(t, tt.wantMsg, re.Message)
			assert.Equal(t, "req-1", re.RequestID)

			assert.Equal(t, 1, storage.count(), "client errors are not retried")
			assert.Equal(t, StateAvailable, c.State())
		})
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	c, storage := newTestClient(t, Config{},
		reply{status: http.StatusServiceUnavailable, code: "ServerBusy"},
		reply{status: http.StatusTooManyRequests},
		reply{status: http.StatusInternalServerError, code: "InternalError"},
	)

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))
	assert.Equal(t, 4, storage.count())
	assert.Equal(t, StateLeased, c.State())
}

func TestClient_RetriesExhausted(t *testing.T) {
	maxRetries := uint64(1)
	c, storage := newTestClient(t, Config{MaxRetries: &maxRetries},
		reply{status: http.StatusServiceUnavailable},
		reply{status: http.StatusServiceUnavailable},
		reply{status: http.StatusServiceUnavailable},
	)

	err := c.Acquire(t.Context(), Infinite, Conditions{})
	require.ErrorIs(t, err, ErrService)
	assert.Equal(t, 2, storage.count())
}

func TestClient_LeaseLostResetsState(t *testing.T) {
	c, storage := newTestClient(t, Config{})
	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))

	storage.mu.Lock()
	storage.script = []reply{{status: http.StatusConflict, code: "LeaseNotPresentWithLeaseOperation"}}
	storage.mu.Unlock()

	require.ErrorIs(t, c.Renew(t.Context(), Conditions{}), ErrLeaseNotPresent)
	assert.Equal(t, StateAvailable, c.State())

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}), "a lost lease can be acquired again")
}

func TestClient_CloseReleasesHeldLease(t *testing.T) {
	c, storage := newTestClient(t, Config{})

	require.NoError(t, c.Close(t.Context()))
	require.Zero(t, storage.count(), "nothing to release")

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))
	require.NoError(t, c.Close(t.Context()))
	assert.Equal(t, "release", storage.last().Header.Get(headerAction))
	assert.Equal(t, StateReleased, c.State())
}

func TestClient_Authorizer(t *testing.T) {
	storage := &fakeStorage{}
	srv := httptest.NewServer(storage)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL + "/c/b"}, zaptest.NewLogger(t).Sugar(), nil,
		WithHTTPClient(srv.Client()),
		WithAuthorizer(func(r *http.Request) error {
			r.Header.Set("Authorization", "SharedKey account:signature")
			return nil
		}),
	)
	require.NoError(t, err)

	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))
	assert.Equal(t, "SharedKey account:signature", storage.last().Header.Get("Authorization"))
}

func TestClient_RecordsMetrics(t *testing.T) {
	storage := &fakeStorage{script: []reply{{status: http.StatusConflict, code: "LeaseAlreadyPresent"}}}
	srv := httptest.NewServer(storage)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	c, err := NewClient(Config{URL: srv.URL + "/c/b"}, zaptest.NewLogger(t).Sugar(), m, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	require.Error(t, c.Acquire(t.Context(), Infinite, Conditions{}))
	require.NoError(t, c.Acquire(t.Context(), Infinite, Conditions{}))

	count, err := testutil.GatherAndCount(reg, "eventhub_lease_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per action/status pair")
}

func TestNewClient_InvalidConfig(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	_, err := NewClient(Config{URL: "https://account.blob.core.windows.net/c/b"}, nil, nil)
	require.Error(t, err)

	_, err = NewClient(Config{URL: "https://account.blob.core.windows.net/c/b", LeaseID: "nope"}, log, nil)
	require.ErrorIs(t, err, ErrInvalidLeaseID)

	_, err = NewClient(Config{}, log, nil)
	require.Error(t, err)
}

func TestRequestURL_Timeout(t *testing.T) {
	timeout := 5 * time.Second
	c, _ := newTestClient(t, Config{RequestTimeout: &timeout})

	u := c.requestURL()
	require.Contains(t, u, "timeout=5")
}

func TestClient_WithHeldLease(t *testing.T) {
	storage := &fakeStorage{}
	srv := httptest.NewServer(storage)
	t.Cleanup(srv.Close)
	log := zaptest.NewLogger(t).Sugar()

	_, err := NewClient(Config{URL: srv.URL + "/c/b"}, log, nil, WithHeldLease())
	require.ErrorIs(t, err, ErrInvalidLeaseID)

	leaseID := uuid.NewString()
	c, err := NewClient(Config{URL: srv.URL + "/c/b", LeaseID: leaseID}, log, nil, WithHTTPClient(srv.Client()), WithHeldLease())
	require.NoError(t, err)
	require.Equal(t, StateLeased, c.State())

	require.NoError(t, c.Renew(t.Context(), Conditions{}))
	assert.Equal(t, leaseID, storage.last().Header.Get(headerLeaseID))
}
