package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ava-labs/eventstream/pkg/eventhub"
)

// producer is the part of *eventhub.Producer the pool relies on.
type producer interface {
	Name() string
	State() eventhub.State
	SendBatch(ctx context.Context, events []*eventhub.EventData, opts ...eventhub.SendOption) error
	Close(cause error)
}

// producerPool hands out producers round robin. Every producer rides on the
// client's shared connection with its own link.
type producerPool struct {
	producers []producer
	n         atomic.Uint64
}

func newProducerPool(client *eventhub.Client, cfg *Config) (*producerPool, error) {
	autoReconnect := cfg.AutoReconnect
	pool := &producerPool{}
	for range cfg.Concurrency {
		p, err := client.NewProducer(eventhub.ProducerOptions{
			PartitionID:   cfg.PartitionID,
			AutoReconnect: &autoReconnect,
		})
		if err != nil {
			pool.close(err)
			return nil, fmt.Errorf("failed to create producer: %w", err)
		}
		pool.producers = append(pool.producers, p)
	}
	return pool, nil
}

func (pp *producerPool) next() producer {
	i := pp.n.Add(1) - 1
	return pp.producers[i%uint64(len(pp.producers))]
}

// healthy fails once any producer has closed on an error.
func (pp *producerPool) healthy(context.Context) error {
	for _, p := range pp.producers {
		if p.State() == eventhub.StateFailed {
			return fmt.Errorf("producer %s failed", p.Name())
		}
	}
	return nil
}

func (pp *producerPool) close(cause error) {
	for _, p := range pp.producers {
		p.Close(cause)
	}
}
