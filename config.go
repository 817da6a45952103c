package duplex

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries the per-connection engine limits. Defaults can be loaded
// from the environment via ConfigFromEnv.
type Config struct {
	// CallTimeout is the default deadline applied to Call and Subscribe when
	// the caller's context has none. Zero means no default deadline.
	// ENV: DUPLEX_CALL_TIMEOUT
	CallTimeout time.Duration `env:"DUPLEX_CALL_TIMEOUT,default=0"`

	// MaxConcurrentCalls bounds how many inbound method invocations may run
	// at once. Requests beyond the bound are rejected with the server-busy
	// error code. ENV: DUPLEX_MAX_CONCURRENT_CALLS
	MaxConcurrentCalls int `env:"DUPLEX_MAX_CONCURRENT_CALLS,default=64"`

	// SubscriptionBuffer is the per-subscription delivery queue capacity.
	// When a consumer falls this far behind, the newest items are shed and
	// counted. ENV: DUPLEX_SUBSCRIPTION_BUFFER
	SubscriptionBuffer int `env:"DUPLEX_SUBSCRIPTION_BUFFER,default=256"`

	// MaxFrameBytes caps the size of one inbound frame before decoding.
	// Oversized frames are answered with a parse error and dropped.
	// ENV: DUPLEX_MAX_FRAME_BYTES
	MaxFrameBytes int `env:"DUPLEX_MAX_FRAME_BYTES,default=10485760"`

	// DisableBatches rejects inbound request batches with the
	// batches-not-supported error code. Inbound response batches are always
	// processed. ENV: DUPLEX_DISABLE_BATCHES
	DisableBatches bool `env:"DUPLEX_DISABLE_BATCHES,default=false"`
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCalls: 64,
		SubscriptionBuffer: 256,
		MaxFrameBytes:      10 << 20,
	}
}

// ConfigFromEnv populates a Config from the environment, with the struct tag
// defaults as fallback.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config from env: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 64
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = 256
	}
	return c
}
