package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Holder is the part of a lease Client the keeper drives.
type Holder interface {
	Renew(ctx context.Context, cond Conditions) error
	Release(ctx context.Context, cond Conditions) error
}

// KeeperConfig holds the configuration for Keep.
type KeeperConfig struct {
	Interval       time.Duration // Interval between renewals, shorter than the lease duration
	RenewTimeout   time.Duration // Timeout for each renewal
	MaxRetries     int           // Maximum number of retry attempts for a failed renewal
	RetryBackoff   time.Duration // Backoff duration between retry attempts
	ReleaseTimeout time.Duration // Timeout for the release on shutdown
}

// DefaultKeeperConfig returns a KeeperConfig suited to a 60 second lease.
func DefaultKeeperConfig() KeeperConfig {
	return KeeperConfig{
		Interval:       20 * time.Second,
		RenewTimeout:   5 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		ReleaseTimeout: 5 * time.Second,
	}
}

// Validate checks that the keeper can run with cfg.
func (c KeeperConfig) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("invalid renew interval %s: must be positive", c.Interval)
	case c.RenewTimeout <= 0:
		return fmt.Errorf("invalid renew timeout %s: must be positive", c.RenewTimeout)
	case c.ReleaseTimeout <= 0:
		return fmt.Errorf("invalid release timeout %s: must be positive", c.ReleaseTimeout)
	case c.MaxRetries < 0:
		return fmt.Errorf("invalid max retries %d: must not be negative", c.MaxRetries)
	case c.RetryBackoff < 0:
		return fmt.Errorf("invalid retry backoff %s: must not be negative", c.RetryBackoff)
	}
	return nil
}

// permanent reports whether a renewal error means the lease is gone.
func permanent(err error) bool {
	return errors.Is(err, ErrLeaseLost) ||
		errors.Is(err, ErrLeaseNotPresent) ||
		errors.Is(err, ErrLeaseIDMismatch) ||
		errors.Is(err, ErrInvalidTransition)
}

// Keep renews a held lease every interval until ctx is done, then releases it.
//
// Returns nil on context cancellation (graceful shutdown), or an error if cfg
// is invalid, a renewal fails after all retries or the lease is lost. An
// invalid cfg is reported before the lease is touched.
func Keep(ctx context.Context, h Holder, cfg KeeperConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ReleaseTimeout)
			defer cancel()
			if err := h.Release(releaseCtx, Conditions{}); err != nil && !permanent(err) {
				return fmt.Errorf("failed to release lease on shutdown: %w", err)
			}
			return nil

		case <-t.C:
			var lastErr error
			for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
				if ctx.Err() != nil {
					break
				}

				renewCtx, cancel := context.WithTimeout(ctx, cfg.RenewTimeout)
				lastErr = h.Renew(renewCtx, Conditions{})
				cancel()

				if lastErr == nil || permanent(lastErr) || ctx.Err() != nil {
					break
				}

				// Don't sleep after the last attempt
				if attempt < cfg.MaxRetries {
					select {
					case <-time.After(cfg.RetryBackoff):
					case <-ctx.Done():
					}
				}
			}

			if ctx.Err() != nil {
				continue
			}
			if lastErr != nil {
				return fmt.Errorf("failed to renew lease: %w", lastErr)
			}
		}
	}
}
