/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import (
	"fmt"
	"time"

	"github.com/chainboard/go-fetchkit/config"
)

const cfgDefaultKeyPrefix = "fetch"

const (
	cfgKeyConcurrencyLimit     = "concurrencyLimit"
	cfgKeyDefaultTTL           = "defaultTTL"
	cfgKeyDefaultTimeout       = "defaultTimeout"
	cfgKeyRateLimitMaxRequests = "rateLimit.maxRequests"
	cfgKeyRateLimitWindow      = "rateLimit.window"
	cfgKeyCacheMaxEntries      = "cache.maxEntries"
)

// Default configuration values.
const (
	DefaultConcurrencyLimit = 8

	DefaultTTL = 1 * time.Minute

	DefaultTimeout = 10 * time.Second

	DefaultRateLimitMaxRequests = 100

	DefaultRateLimitWindow = 1 * time.Minute

	DefaultCacheMaxEntries = 10000
)

// Config represents a set of configuration parameters for the Orchestrator.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// ConcurrencyLimit is the maximum number of compute tasks running at the same time.
	ConcurrencyLimit int `mapstructure:"concurrencyLimit" yaml:"concurrencyLimit" json:"concurrencyLimit"`

	// DefaultTTL is applied to cached results when a request does not specify its own TTL.
	DefaultTTL config.TimeDuration `mapstructure:"defaultTTL" yaml:"defaultTTL" json:"defaultTTL"`

	// DefaultTimeout bounds a single compute task when a request does not specify its own timeout.
	DefaultTimeout config.TimeDuration `mapstructure:"defaultTimeout" yaml:"defaultTimeout" json:"defaultTimeout"`

	RateLimit RateLimitConfig `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`

	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	keyPrefix string
}

// RateLimitConfig is a configuration for the per-key fixed-window rate limiter.
type RateLimitConfig struct {
	// MaxRequests is the number of requests admitted per key within one window.
	MaxRequests int `mapstructure:"maxRequests" yaml:"maxRequests" json:"maxRequests"`

	// Window is the length of the fixed window.
	Window config.TimeDuration `mapstructure:"window" yaml:"window" json:"window"`
}

// CacheConfig is a configuration for the TTL cache of computed results.
type CacheConfig struct {
	// MaxEntries bounds the number of cached results. Zero means no bound.
	MaxEntries int `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:        opts.keyPrefix,
		ConcurrencyLimit: DefaultConcurrencyLimit,
		DefaultTTL:       config.TimeDuration(DefaultTTL),
		DefaultTimeout:   config.TimeDuration(DefaultTimeout),
		RateLimit: RateLimitConfig{
			MaxRequests: DefaultRateLimitMaxRequests,
			Window:      config.TimeDuration(DefaultRateLimitWindow),
		},
		Cache: CacheConfig{
			MaxEntries: DefaultCacheMaxEntries,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyConcurrencyLimit, DefaultConcurrencyLimit)
	dp.SetDefault(cfgKeyDefaultTTL, DefaultTTL.String())
	dp.SetDefault(cfgKeyDefaultTimeout, DefaultTimeout.String())
	dp.SetDefault(cfgKeyRateLimitMaxRequests, DefaultRateLimitMaxRequests)
	dp.SetDefault(cfgKeyRateLimitWindow, DefaultRateLimitWindow.String())
	dp.SetDefault(cfgKeyCacheMaxEntries, DefaultCacheMaxEntries)
}

// Set sets orchestrator configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.ConcurrencyLimit, err = dp.GetInt(cfgKeyConcurrencyLimit); err != nil {
		return err
	}
	if c.ConcurrencyLimit <= 0 {
		return dp.WrapKeyErr(cfgKeyConcurrencyLimit, fmt.Errorf("must be positive"))
	}

	var ttl time.Duration
	if ttl, err = dp.GetDuration(cfgKeyDefaultTTL); err != nil {
		return err
	}
	if ttl < 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTTL, fmt.Errorf("must not be negative"))
	}
	c.DefaultTTL = config.TimeDuration(ttl)

	var timeout time.Duration
	if timeout, err = dp.GetDuration(cfgKeyDefaultTimeout); err != nil {
		return err
	}
	if timeout < 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTimeout, fmt.Errorf("must not be negative"))
	}
	c.DefaultTimeout = config.TimeDuration(timeout)

	if c.RateLimit.MaxRequests, err = dp.GetInt(cfgKeyRateLimitMaxRequests); err != nil {
		return err
	}
	if c.RateLimit.MaxRequests <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitMaxRequests, fmt.Errorf("must be positive"))
	}

	var window time.Duration
	if window, err = dp.GetDuration(cfgKeyRateLimitWindow); err != nil {
		return err
	}
	if window <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitWindow, fmt.Errorf("must be positive"))
	}
	c.RateLimit.Window = config.TimeDuration(window)

	if c.Cache.MaxEntries, err = dp.GetInt(cfgKeyCacheMaxEntries); err != nil {
		return err
	}
	if c.Cache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, fmt.Errorf("must not be negative"))
	}

	return nil
}
