package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/eventstream/pkg/amqp"
	"github.com/ava-labs/eventstream/pkg/eventhub"
	"github.com/ava-labs/eventstream/pkg/metrics"
	"github.com/ava-labs/eventstream/pkg/utils"
)

func send(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger("producer", cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"eventHub", cfg.EventHubName(),
		"keyName", cfg.Client.KeyName,
		"partitionID", cfg.PartitionID,
		"partitionKey", cfg.PartitionKey,
		"maxRetries", cfg.Client.MaxRetries,
		"sendTimeout", *cfg.Client.SendTimeout,
		"keepAlive", cfg.Client.KeepAlive,
		"retryBackoff", *cfg.Client.RetryBackoff,
		"maxRetryBackoff", *cfg.Client.MaxRetryBackoff,
		"autoReconnect", cfg.AutoReconnect,
		"networkTracing", cfg.Client.NetworkTracing,
		"batchSize", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		EventHub:      cfg.EventHubName(),
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connMgr := amqp.NewConnectionManager(sugar, amqp.ConnectionOptions{IdleTimeout: cfg.Client.KeepAlive})
	client, err := eventhub.NewClient(cfg.Client, connMgr, amqp.NewLinkFactory(sugar), sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	pool, err := newProducerPool(client, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer cancel()
		pool.close(nil)
		if err := client.Close(closeCtx); err != nil {
			sugar.Warnw("failed to close connection", "error", err)
		}
	}()

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, pool.healthy)
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	g, gctx := errgroup.WithContext(ctx)

	var sent atomic.Int64
	pumpDone := make(chan struct{})
	g.Go(func() error {
		defer close(pumpDone)
		return pump(gctx, sugar, os.Stdin, pool, cfg, &sent)
	})

	// Metrics server error monitoring goroutine
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-pumpDone:
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		}
	})

	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		sugar.Info("interrupted")
		err = nil
	}

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Infow("shutdown complete", "eventsSent", sent.Load())
	return err
}

// pump reads batches of lines from r and sends each batch on the next
// producer of the pool, keeping at most cfg.Concurrency batches in flight.
// The first failed batch stops reading and cancels the rest.
func pump(ctx context.Context, log *zap.SugaredLogger, r io.Reader, pool *producerPool, cfg *Config, sent *atomic.Int64) error {
	sem := semaphore.NewWeighted(cfg.Concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var opts []eventhub.SendOption
	if cfg.PartitionKey != "" {
		opts = append(opts, eventhub.WithPartitionKey(cfg.PartitionKey))
	}

	var batchNum int
	readErr := utils.BatchLines(gctx, r, cfg.BatchSize, cfg.MaxLineBytes, func(lines [][]byte) error {
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		events := toEvents(lines, cfg.Properties)
		p := pool.next()
		num := batchNum
		batchNum++

		g.Go(func() error {
			defer sem.Release(1)
			if err := p.SendBatch(gctx, events, opts...); err != nil {
				return fmt.Errorf("batch %d: %w", num, err)
			}
			sent.Add(int64(len(events)))
			log.Debugw("batch sent", "batch", num, "events", len(events))
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

func toEvents(lines [][]byte, props map[string]any) []*eventhub.EventData {
	events := make([]*eventhub.EventData, len(lines))
	for i, line := range lines {
		e := eventhub.NewEventData(line)
		if len(props) > 0 {
			e.Properties = make(map[string]any, len(props))
			for k, v := range props {
				e.Properties[k] = v
			}
		}
		events[i] = e
	}
	return events
}
