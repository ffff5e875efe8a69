package lease

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second

	// APIVersion is the storage REST API version sent with every request.
	APIVersion = "2019-02-02"
)

// Target is the kind of resource a lease is taken on.
type Target string

const (
	TargetBlob      Target = "blob"
	TargetContainer Target = "container"
)

// Config configures a lease Client.
type Config struct {
	// URL of the blob or container, optionally carrying a SAS token in its query.
	URL    string `env:"LEASE_URL"`
	Target Target `env:"LEASE_TARGET" envDefault:"blob"`
	// LeaseID proposed on acquire. A random UUID is used when empty.
	LeaseID        string         `env:"LEASE_ID"`
	MaxRetries     *uint64        `env:"LEASE_MAX_RETRIES"`
	RetryBackoff   *time.Duration `env:"LEASE_RETRY_BACKOFF"`
	RequestTimeout *time.Duration `env:"LEASE_REQUEST_TIMEOUT"`
}

// LoadConfig reads a Config from LEASE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse lease config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with unset values defaulted.
func (c Config) WithDefaults() Config {
	if c.Target == "" {
		c.Target = TargetBlob
	}
	if c.MaxRetries == nil {
		n := uint64(DefaultMaxRetries)
		c.MaxRetries = &n
	}
	if c.RetryBackoff == nil {
		d := DefaultRetryBackoff
		c.RetryBackoff = &d
	}
	if c.RequestTimeout == nil {
		d := DefaultRequestTimeout
		c.RequestTimeout = &d
	}
	return c
}

// Validate checks the config and returns the parsed resource URL.
func (c Config) Validate() (*url.URL, error) {
	if c.URL == "" {
		return nil, errors.New("lease url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid lease url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid lease url %q: scheme must be http or https", c.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid lease url %q: missing host", c.URL)
	}
	if c.Target != TargetBlob && c.Target != TargetContainer {
		return nil, fmt.Errorf("invalid lease target %q", c.Target)
	}
	if c.RetryBackoff != nil && *c.RetryBackoff <= 0 {
		return nil, fmt.Errorf("invalid retry backoff %s: must be positive", *c.RetryBackoff)
	}
	return u, nil
}
