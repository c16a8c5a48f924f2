package config

import (
	"errors"
	"io"
	"os"
	"time"

	"blockclient/wire"

	"gopkg.in/yaml.v3"
)

// Config is the whole client-side configuration. Only yaml is supported.
type Config struct {
	Master   MasterConfig  // the default master to coordinate with
	Hostname string        // local hostname override; empty means os.Hostname
	Metrics  MetricsConfig // optional metrics endpoint
	Pools    PoolsConfig   // per-resource-kind pool limits
}

// MasterConfig is the default master endpoint.
type MasterConfig struct {
	Host string
	Port int
}

// Address returns the master endpoint as a wire.Address.
func (c MasterConfig) Address() wire.Address {
	return wire.Addr(c.Host, c.Port)
}

// MetricsConfig configures the optional metrics HTTP endpoint.
type MetricsConfig struct {
	Listen string // listen address for the metrics endpoint; empty disables it
}

// PoolsConfig holds the limits of the three resource kinds. Each kind is
// configured independently.
type PoolsConfig struct {
	MasterClient PoolConfig `yaml:"masterclient"` // master RPC clients, one pool per context
	Channel      PoolConfig `yaml:"channel"`      // raw transport channels, one pool per worker address
	WorkerClient PoolConfig `yaml:"workerclient"` // worker RPC clients, one pool per worker address
}

// PoolConfig is the limit set of one pool kind.
type PoolConfig struct {
	Max                   int `yaml:"max"`                   // max live resources per pool
	GCThresholdSeconds    int `yaml:"gcthresholdseconds"`    // close entries idle longer than this; 0 disables reaping
	AcquireTimeoutSeconds int `yaml:"acquiretimeoutseconds"` // bounded wait for an exhausted pool; 0 waits on ctx only
}

// GCThreshold is a shorthand for:
//
//	time.Duration(c.GCThresholdSeconds) * time.Second
func (c PoolConfig) GCThreshold() time.Duration {
	return time.Duration(c.GCThresholdSeconds) * time.Second
}

// AcquireTimeout is a shorthand for:
//
//	time.Duration(c.AcquireTimeoutSeconds) * time.Second
func (c PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// DefaultConfig returns a Config with workable defaults for everything
// except the master address, which the caller must fill in.
func DefaultConfig() *Config {
	return &Config{
		Pools: PoolsConfig{
			MasterClient: PoolConfig{Max: 10, GCThresholdSeconds: 120, AcquireTimeoutSeconds: 30},
			Channel:      PoolConfig{Max: 1024, GCThresholdSeconds: 300, AcquireTimeoutSeconds: 30},
			WorkerClient: PoolConfig{Max: 128, GCThresholdSeconds: 300, AcquireTimeoutSeconds: 30},
		},
	}
}

func (c *Config) Read(src io.Reader) error {
	return yaml.NewDecoder(src).Decode(c)
}

func (c *Config) Write(dst io.Writer) error {
	return yaml.NewEncoder(dst).Encode(c)
}

// Load reads a yaml config file on top of the defaults.
func Load(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := DefaultConfig()
	if err := c.Read(f); err != nil {
		return nil, err
	}
	return c, c.Check()
}

// Check verifies the loaded config is usable.
func (c *Config) Check() error {
	if c.Master.Host == "" || c.Master.Port == 0 {
		return errors.New("config: master address is required")
	}
	return nil
}
