package eventhub

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default values for the client configuration.
const (
	DefaultMaxRetries      = 3
	DefaultSendTimeout     = 60 * time.Second
	DefaultRetryBackoff    = time.Second
	DefaultMaxRetryBackoff = 30 * time.Second
	DefaultUserAgent       = "eventstream"
)

// ClientConfig holds the configuration shared by every producer of a client.
type ClientConfig struct {
	Address         string         `env:"EVENTHUB_ADDRESS"`                             // amqps://<namespace>.servicebus.windows.net/<hub>
	KeyName         string         `env:"EVENTHUB_KEY_NAME"`                            // Shared access key name
	Key             string         `env:"EVENTHUB_KEY"`                                 // Shared access key
	MaxRetries      int            `env:"EVENTHUB_MAX_RETRIES" envDefault:"3"`          // Retries after the first failed attempt
	SendTimeout     *time.Duration `env:"EVENTHUB_SEND_TIMEOUT" envDefault:"60s"`       // Per-attempt send timeout, 0 disables it
	KeepAlive       time.Duration  `env:"EVENTHUB_KEEP_ALIVE" envDefault:"0s"`          // Idle keep-alive interval, 0 disables it
	RetryBackoff    *time.Duration `env:"EVENTHUB_RETRY_BACKOFF" envDefault:"1s"`       // Initial wait before reopening a torn-down link
	MaxRetryBackoff *time.Duration `env:"EVENTHUB_MAX_RETRY_BACKOFF" envDefault:"30s"`  // Upper bound of the reopen backoff
	NetworkTracing  bool           `env:"EVENTHUB_NETWORK_TRACING" envDefault:"false"`  // Log transport frames
	UserAgent       string         `env:"EVENTHUB_USER_AGENT" envDefault:"eventstream"` // Appended to the link user-agent property
}

// LoadClientConfig loads the client configuration from environment variables.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for any nil pointer fields.
// This method does not mutate the original config.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.SendTimeout == nil {
		timeout := DefaultSendTimeout
		c.SendTimeout = &timeout
	}
	if c.RetryBackoff == nil {
		backoff := DefaultRetryBackoff
		c.RetryBackoff = &backoff
	}
	if c.MaxRetryBackoff == nil {
		backoff := DefaultMaxRetryBackoff
		c.MaxRetryBackoff = &backoff
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Validate checks the config and parses the address.
func (c ClientConfig) Validate() (*url.URL, error) {
	if c.Address == "" {
		return nil, errors.New("invalid address: must not be empty")
	}
	u, err := url.Parse(c.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", c.Address, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid address %q: missing host", c.Address)
	}
	if c.MaxRetries < 0 {
		return nil, errors.New("invalid max retries: must not be negative")
	}
	if c.SendTimeout != nil && *c.SendTimeout < 0 {
		return nil, errors.New("invalid send timeout: must not be negative")
	}
	if c.KeepAlive < 0 {
		return nil, errors.New("invalid keep alive: must not be negative")
	}
	if c.RetryBackoff != nil && *c.RetryBackoff < 0 {
		return nil, errors.New("invalid retry backoff: must not be negative")
	}
	if c.MaxRetryBackoff != nil && *c.MaxRetryBackoff < 0 {
		return nil, errors.New("invalid max retry backoff: must not be negative")
	}
	if c.RetryBackoff != nil && c.MaxRetryBackoff != nil && *c.MaxRetryBackoff < *c.RetryBackoff {
		return nil, fmt.Errorf("invalid max retry backoff %s: must not be less than retry backoff %s",
			*c.MaxRetryBackoff, *c.RetryBackoff)
	}
	return u, nil
}
