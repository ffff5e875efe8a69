package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/eventstream/pkg/eventhub"
)

// sendFlags returns all CLI flags for the producer send command
func sendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		// Event Hub configuration flags
		&cli.StringFlag{
			Name:     "address",
			Aliases:  []string{"a"},
			Usage:    "Event Hub address (amqps://<namespace>.servicebus.windows.net/<hub>)",
			EnvVars:  []string{"EVENTHUB_ADDRESS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "key-name",
			Usage:   "Shared access key name",
			EnvVars: []string{"EVENTHUB_KEY_NAME"},
		},
		&cli.StringFlag{
			Name:    "key",
			Usage:   "Shared access key",
			EnvVars: []string{"EVENTHUB_KEY"},
		},
		&cli.StringFlag{
			Name:    "partition-id",
			Aliases: []string{"p"},
			Usage:   "Send every event to this partition",
			EnvVars: []string{"EVENTHUB_PARTITION_ID"},
		},
		&cli.StringFlag{
			Name:    "partition-key",
			Aliases: []string{"k"},
			Usage:   "Partition key stamped on every event",
			EnvVars: []string{"EVENTHUB_PARTITION_KEY"},
		},
		&cli.StringSliceFlag{
			Name:    "property",
			Usage:   "Application property key=value attached to every event (repeatable)",
			EnvVars: []string{"EVENTHUB_PROPERTIES"},
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Retries after the first failed attempt of a send",
			EnvVars: []string{"EVENTHUB_MAX_RETRIES"},
			Value:   eventhub.DefaultMaxRetries,
		},
		&cli.DurationFlag{
			Name:    "send-timeout",
			Usage:   "Per-attempt send timeout, 0 disables it",
			EnvVars: []string{"EVENTHUB_SEND_TIMEOUT"},
			Value:   eventhub.DefaultSendTimeout,
		},
		&cli.DurationFlag{
			Name:    "keep-alive",
			Usage:   "Connection idle keep-alive interval, 0 disables it",
			EnvVars: []string{"EVENTHUB_KEEP_ALIVE"},
		},
		&cli.DurationFlag{
			Name:    "retry-backoff",
			Usage:   "Initial wait before reopening a torn-down link",
			EnvVars: []string{"EVENTHUB_RETRY_BACKOFF"},
			Value:   eventhub.DefaultRetryBackoff,
		},
		&cli.DurationFlag{
			Name:    "max-retry-backoff",
			Usage:   "Upper bound of the reopen backoff",
			EnvVars: []string{"EVENTHUB_MAX_RETRY_BACKOFF"},
			Value:   eventhub.DefaultMaxRetryBackoff,
		},
		&cli.BoolFlag{
			Name:    "no-auto-reconnect",
			Usage:   "Fail a send on its first error instead of reconnecting",
			EnvVars: []string{"EVENTHUB_NO_AUTO_RECONNECT"},
		},
		&cli.BoolFlag{
			Name:    "network-tracing",
			Usage:   "Log every delivery at debug level",
			EnvVars: []string{"EVENTHUB_NETWORK_TRACING"},
		},
		&cli.StringFlag{
			Name:    "user-agent",
			Usage:   "Appended to the link user-agent property",
			EnvVars: []string{"EVENTHUB_USER_AGENT"},
			Value:   eventhub.DefaultUserAgent,
		},
		// Batching configuration flags
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Events per batch",
			EnvVars: []string{"PRODUCER_BATCH_SIZE"},
			Value:   100,
		},
		&cli.Int64Flag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Batches in flight, each on its own producer",
			EnvVars: []string{"PRODUCER_CONCURRENCY"},
			Value:   4,
		},
		&cli.IntFlag{
			Name:    "max-line-bytes",
			Usage:   "Largest accepted input line",
			EnvVars: []string{"PRODUCER_MAX_LINE_BYTES"},
			Value:   1 << 20,
		},
		// Metrics configuration flags
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'azure')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
		&cli.DurationFlag{
			Name:    "close-timeout",
			Usage:   "Time allowed to close producers and the connection on shutdown",
			EnvVars: []string{"PRODUCER_CLOSE_TIMEOUT"},
			Value:   10 * time.Second,
		},
	}
}
