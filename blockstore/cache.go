package blockstore

import (
	"sync"

	"blockclient/config"
	"blockclient/metrics"
	"blockclient/registry"
	"blockclient/wire"
)

// Cache keeps one Context per master address. Get-or-create is fully
// serialized on one mutex; that is safe because building a Context only
// sets up empty pool shells and never dials or acquires anything, so
// the lock is never held across a blocking wait.
type Cache struct {
	cfg     *config.Config
	reg     *registry.Registry
	factory MasterClientFactory

	mu       sync.Mutex
	contexts map[wire.Address]*Context
}

// Option configures a Cache.
type Option func(*Cache)

// WithMasterClientFactory overrides how master clients are created.
// Tests use this to avoid the network entirely.
func WithMasterClientFactory(f MasterClientFactory) Option {
	return func(c *Cache) {
		c.factory = f
	}
}

// WithMetrics registers the cache's gauges on reg: the current total of
// open transport channels, sampled from the registry on every read.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Cache) {
		reg.GaugeFunc("client_channels_open",
			"Open transport channels across all worker channel pools.",
			c.reg.OpenChannels)
	}
}

// NewCache creates a context cache over the given registry. Like the
// registry, it is built once at startup and shared by reference.
func NewCache(cfg *config.Config, reg *registry.Registry, opts ...Option) *Cache {
	c := &Cache{
		cfg:      cfg,
		reg:      reg,
		factory:  DialMasterClient,
		contexts: make(map[wire.Address]*Context),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the Context for the given master address, creating and
// caching it on first lookup. Contexts are never evicted.
func (c *Cache) Get(master wire.Address) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.contexts[master]
	if !ok {
		ctx = newContext(c.cfg, c.reg, master, c.factory)
		c.contexts[master] = ctx
	}
	return ctx
}

// GetDefault returns the Context for the configured master address.
func (c *Cache) GetDefault() *Context {
	return c.Get(c.cfg.Master.Address())
}
