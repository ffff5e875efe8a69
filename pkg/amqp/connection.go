package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/eventhub"
)

// ConnectionOptions configure the connections dialed by a ConnectionManager.
type ConnectionOptions struct {
	// IdleTimeout is the keep-alive interval negotiated with the service.
	IdleTimeout time.Duration
	// ContainerID identifies the client to the service. Empty picks a random one.
	ContainerID string
	// Scheme defaults to "amqps".
	Scheme string
}

type connection struct {
	host string
	conn *amqp.Conn
}

func (c *connection) Host() string {
	return c.host
}

type dialFunc func(ctx context.Context, addr string, opts *amqp.ConnOptions) (*amqp.Conn, error)

// ConnectionManager keeps one AMQP connection per host and hands it to every
// link that asks for that host.
type ConnectionManager struct {
	log  *zap.SugaredLogger
	opts ConnectionOptions
	dial dialFunc

	mu    sync.Mutex
	conns map[string]*connection
}

// NewConnectionManager creates a ConnectionManager. No connection is dialed
// until the first GetConnection.
func NewConnectionManager(log *zap.SugaredLogger, opts ConnectionOptions) *ConnectionManager {
	if opts.Scheme == "" {
		opts.Scheme = "amqps"
	}
	return &ConnectionManager{
		log:   log,
		opts:  opts,
		dial:  amqp.Dial,
		conns: make(map[string]*connection),
	}
}

// GetConnection returns the shared connection to host, dialing it on first use.
func (m *ConnectionManager) GetConnection(ctx context.Context, host string, auth eventhub.Auth) (eventhub.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[host]; ok {
		return c, nil
	}

	saslType := amqp.SASLTypeAnonymous()
	if auth.KeyName != "" {
		saslType = amqp.SASLTypePlain(auth.KeyName, auth.Key)
	}
	addr := fmt.Sprintf("%s://%s", m.opts.Scheme, host)
	conn, err := m.dial(ctx, addr, &amqp.ConnOptions{
		ContainerID: m.opts.ContainerID,
		HostName:    host,
		IdleTimeout: m.opts.IdleTimeout,
		SASLType:    saslType,
	})
	if err != nil {
		return nil, translateError(fmt.Errorf("failed to dial %s: %w", addr, err))
	}

	c := &connection{host: host, conn: conn}
	m.conns[host] = c
	m.log.Infow("amqp connection opened", "host", host)
	return c, nil
}

// CloseConnection closes every shared connection. Links riding on them fail
// and reopen over a fresh connection.
func (m *ConnectionManager) CloseConnection(context.Context) error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	var errs []error
	for host, c := range conns {
		if err := c.conn.Close(); err != nil {
			var connErr *amqp.ConnError
			// A connection that already failed reports its failure again on Close.
			if !errors.As(err, &connErr) {
				errs = append(errs, fmt.Errorf("failed to close connection to %s: %w", host, err))
			}
		}
		m.log.Infow("amqp connection closed", "host", host)
	}
	return errors.Join(errs...)
}
