package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/eventstream/pkg/eventhub"
	"github.com/ava-labs/eventstream/pkg/utils"
)

// Config holds all configuration for the producer send command
type Config struct {
	// Application settings
	Verbose bool

	// Event Hub settings
	Client        eventhub.ClientConfig
	PartitionID   string
	PartitionKey  string
	Properties    map[string]any
	AutoReconnect bool

	// Batching settings
	BatchSize    int
	Concurrency  int64
	MaxLineBytes int
	CloseTimeout time.Duration

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// EventHubName returns the entity path of the configured address, used as a
// metrics label.
func (c *Config) EventHubName() string {
	u, err := url.Parse(c.Client.Address)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch-size must be positive, got %d", batchSize)
	}
	concurrency := c.Int64("concurrency")
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	props, err := utils.ParseProperties(c.StringSlice("property"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}

	sendTimeout := c.Duration("send-timeout")
	retryBackoff := c.Duration("retry-backoff")
	maxRetryBackoff := c.Duration("max-retry-backoff")
	clientCfg := eventhub.ClientConfig{
		Address:         c.String("address"),
		KeyName:         c.String("key-name"),
		Key:             c.String("key"),
		MaxRetries:      c.Int("max-retries"),
		SendTimeout:     &sendTimeout,
		KeepAlive:       c.Duration("keep-alive"),
		RetryBackoff:    &retryBackoff,
		MaxRetryBackoff: &maxRetryBackoff,
		NetworkTracing:  c.Bool("network-tracing"),
		UserAgent:       c.String("user-agent"),
	}
	if _, err := clientCfg.Validate(); err != nil {
		return nil, err
	}

	return &Config{
		Verbose:       c.Bool("verbose"),
		Client:        clientCfg,
		PartitionID:   c.String("partition-id"),
		PartitionKey:  c.String("partition-key"),
		Properties:    props,
		AutoReconnect: !c.Bool("no-auto-reconnect"),
		BatchSize:     batchSize,
		Concurrency:   concurrency,
		MaxLineBytes:  c.Int("max-line-bytes"),
		CloseTimeout:  c.Duration("close-timeout"),
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}, nil
}
