package eventhub

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testAddress = "amqps://ns.servicebus.windows.net/hub"

func newTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// fakeConn is a Connection returned by mockConnManager.
type fakeConn struct {
	host string
}

func (c *fakeConn) Host() string { return c.host }

// mockConnManager is a mock implementation of ConnectionManager.
type mockConnManager struct {
	mock.Mock
}

func (m *mockConnManager) GetConnection(ctx context.Context, host string, auth Auth) (Connection, error) {
	args := m.Called(ctx, host, auth)
	conn, _ := args.Get(0).(Connection)
	return conn, args.Error(1)
}

func (m *mockConnManager) CloseConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newMockConnManager() *mockConnManager {
	m := &mockConnManager{}
	m.On("GetConnection", mock.Anything, mock.Anything, mock.Anything).
		Return(&fakeConn{host: "ns.servicebus.windows.net"}, nil)
	m.On("CloseConnection", mock.Anything).Return(nil)
	return m
}

// step scripts the result of one Wait call.
type step struct {
	err     error
	outcome Outcome
	// block makes Wait block until its context is done.
	block bool
	// remaining replaces the payload at the head of the link's queue before
	// Wait returns err.
	remaining *Payload
	delay     time.Duration
}

// linkRecorder is a LinkFactory that records every link it builds and plays
// a script of Wait results shared by all of them.
type linkRecorder struct {
	mu          sync.Mutex
	script      []step
	links       []*fakeLink
	targets     []string
	enqueued    []*Payload
	delivered   []*Payload
	maxQueued   int
	openErr     error
	inFlight    int
	maxInFlight int
	// onOpen runs inside Open, before the link checks whether it was closed.
	onOpen func()
}

func newLinkRecorder(steps ...step) *linkRecorder {
	return &linkRecorder{script: steps}
}

func (r *linkRecorder) factory(target string, opts LinkOptions) Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := &fakeLink{recorder: r, target: target, opts: opts, ready: make(chan struct{})}
	r.links = append(r.links, l)
	r.targets = append(r.targets, target)
	return l
}

func (r *linkRecorder) next() step {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) == 0 {
		return step{outcome: Outcome{Status: DeliveryOK}}
	}
	s := r.script[0]
	r.script = r.script[1:]
	return s
}

// attempts is the number of payloads enqueued across all links.
func (r *linkRecorder) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.enqueued)
}

// sent is every payload a link delivered successfully, in order.
func (r *linkRecorder) sent() []*Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Payload(nil), r.delivered...)
}

// deepestQueue is the longest queue any link held.
func (r *linkRecorder) deepestQueue() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxQueued
}

func (r *linkRecorder) built() []*fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeLink(nil), r.links...)
}

type fakeLink struct {
	recorder *linkRecorder
	target   string
	opts     LinkOptions
	ready    chan struct{}

	// mu is never held while taking recorder.mu.
	mu     sync.Mutex
	opened bool
	closes int
	// queue is FIFO like the AMQP link's: a failed Wait leaves the head queued.
	queue []*Payload
}

func (l *fakeLink) Open(_ context.Context, _ Connection) error {
	l.recorder.mu.Lock()
	err, onOpen := l.recorder.openErr, l.recorder.onOpen
	l.recorder.mu.Unlock()
	if err != nil {
		return err
	}
	if onOpen != nil {
		onOpen()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closes > 0 {
		return ErrProducerClosed
	}
	l.opened = true
	close(l.ready)
	return nil
}

func (l *fakeLink) Ready() <-chan struct{} { return l.ready }

func (l *fakeLink) Enqueue(p *Payload) error {
	l.mu.Lock()
	if l.closes > 0 {
		l.mu.Unlock()
		return ErrProducerClosed
	}
	if !slices.Contains(l.queue, p) {
		l.queue = append(l.queue, p)
	}
	depth := len(l.queue)
	l.mu.Unlock()

	l.recorder.mu.Lock()
	l.recorder.enqueued = append(l.recorder.enqueued, p)
	l.recorder.maxQueued = max(l.recorder.maxQueued, depth)
	l.recorder.mu.Unlock()
	return nil
}

func (l *fakeLink) Wait(ctx context.Context) (Outcome, error) {
	r := l.recorder
	r.mu.Lock()
	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	s := r.next()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.block {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}
	if s.err != nil {
		if s.remaining != nil {
			l.mu.Lock()
			if len(l.queue) > 0 {
				l.queue[0] = s.remaining
			}
			l.mu.Unlock()
		}
		return Outcome{}, s.err
	}

	l.mu.Lock()
	var settled []*Payload
	switch s.outcome.Status {
	case DeliveryOK:
		settled, l.queue = l.queue, nil
	case DeliveryFailed:
		if len(l.queue) > 0 {
			l.queue = l.queue[1:]
		}
	}
	l.mu.Unlock()

	r.mu.Lock()
	r.delivered = append(r.delivered, settled...)
	r.mu.Unlock()
	return s.outcome, nil
}

func (l *fakeLink) Pending() *Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

func (l *fakeLink) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeLink) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

type testClientOption func(*ClientConfig)

func withMaxRetries(n int) testClientOption {
	return func(c *ClientConfig) { c.MaxRetries = n }
}

func newTestClient(t *testing.T, connMgr ConnectionManager, links *linkRecorder, opts ...testClientOption) *Client {
	t.Helper()
	noBackoff := time.Duration(0)
	cfg := ClientConfig{
		Address:      testAddress,
		KeyName:      "RootManageSharedAccessKey",
		Key:          "secret",
		MaxRetries:   3,
		RetryBackoff: &noBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := NewClient(cfg, connMgr, links.factory, newTestLogger(t), nil)
	require.NoError(t, err)
	return c
}

func newTestProducer(t *testing.T, c *Client) *Producer {
	t.Helper()
	p, err := c.NewProducer(ProducerOptions{})
	require.NoError(t, err)
	return p
}
