package eventhub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/metrics"
)

const (
	productName    = "eventstream"
	productVersion = "1.0.0"
)

// Client owns the connection manager and the settings shared by its producers.
//
// Close MUST be called once every producer is closed to release the shared
// connection.
type Client struct {
	cfg     ClientConfig
	address *url.URL
	connMgr ConnectionManager
	newLink LinkFactory
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewClient creates a client for cfg.Address. m may be nil.
func NewClient(
	cfg ClientConfig,
	connMgr ConnectionManager,
	newLink LinkFactory,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (*Client, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if connMgr == nil {
		return nil, errors.New("invalid connection manager: must not be nil")
	}
	if newLink == nil {
		return nil, errors.New("invalid link factory: must not be nil")
	}
	cfg = cfg.WithDefaults()
	address, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		address: address,
		connMgr: connMgr,
		newLink: newLink,
		log:     log,
		metrics: m,
	}, nil
}

// ProducerOptions configure a producer. Nil fields take the client defaults.
type ProducerOptions struct {
	// PartitionID pins the producer to one partition. Empty lets the service
	// distribute events.
	PartitionID   string
	SendTimeout   *time.Duration
	KeepAlive     *time.Duration
	AutoReconnect *bool
}

// NewProducer creates a producer sending to the client's Event Hub. The
// link is opened lazily by the first send.
func (c *Client) NewProducer(opts ProducerOptions) (*Producer, error) {
	target := c.address.String()
	name := "EHProducer-" + uuid.NewString()
	if opts.PartitionID != "" {
		target += "/Partitions/" + opts.PartitionID
		name += "-partition" + opts.PartitionID
	}

	sendTimeout := *c.cfg.SendTimeout
	if opts.SendTimeout != nil {
		sendTimeout = *opts.SendTimeout
	}
	keepAlive := c.cfg.KeepAlive
	if opts.KeepAlive != nil {
		keepAlive = *opts.KeepAlive
	}
	autoReconnect := true
	if opts.AutoReconnect != nil {
		autoReconnect = *opts.AutoReconnect
	}
	if sendTimeout < 0 || keepAlive < 0 {
		return nil, fmt.Errorf("invalid producer options: negative duration")
	}

	p := &Producer{
		client:          c,
		log:             c.log.With("producer", name),
		metrics:         c.metrics,
		name:            name,
		partition:       opts.PartitionID,
		host:            c.address.Hostname(),
		target:          target,
		sendTimeout:     sendTimeout,
		keepAlive:       keepAlive,
		autoReconnect:   autoReconnect,
		maxRetries:      c.cfg.MaxRetries,
		retryBackoff:    *c.cfg.RetryBackoff,
		maxRetryBackoff: *c.cfg.MaxRetryBackoff,
	}
	c.metrics.IncProducersOpen()
	p.log.Infow("producer created", "target", target)
	return p, nil
}

// Close tears down the shared connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.connMgr.CloseConnection(ctx); err != nil {
		return fmt.Errorf("failed to close shared connection: %w", err)
	}
	c.log.Infow("client closed", "address", c.address.String())
	return nil
}

func (c *Client) auth() Auth {
	return Auth{KeyName: c.cfg.KeyName, Key: c.cfg.Key}
}

// linkProperties identify the client to the service on every link.
func (c *Client) linkProperties() map[string]any {
	return map[string]any{
		"product":    productName,
		"version":    productVersion,
		"framework":  runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		"user-agent": fmt.Sprintf("%s/%s %s", productName, productVersion, c.cfg.UserAgent),
	}
}

// WithProducer creates a producer, runs fn with it and closes it, passing
// along the error fn returned.
func WithProducer(ctx context.Context, c *Client, opts ProducerOptions, fn func(context.Context, *Producer) error) error {
	p, err := c.NewProducer(opts)
	if err != nil {
		return err
	}
	err = fn(ctx, p)
	p.Close(err)
	return err
}
