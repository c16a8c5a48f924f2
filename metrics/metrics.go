// Package metrics provides a small pull-model metrics registry.
//
// Every metric is a GaugeFunc: a named function sampled at read time.
// Nothing is cached between samples and sampling never mutates the
// thing being measured, so a gauge over a pool is always the pool's
// current truth.
package metrics

import (
	"sort"
	"sync"
)

// GaugeFunc is a gauge whose value is recomputed on every sample.
type GaugeFunc struct {
	name string
	help string
	fn   func() int64
}

// Name returns the gauge's registered name.
func (g *GaugeFunc) Name() string { return g.name }

// Help returns the gauge's description.
func (g *GaugeFunc) Help() string { return g.help }

// Value samples the gauge.
func (g *GaugeFunc) Value() int64 { return g.fn() }

// Registry holds registered gauges. Build one per process and pass it
// by reference; there is no package-level default.
type Registry struct {
	mu     sync.RWMutex
	gauges map[string]*GaugeFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gauges: make(map[string]*GaugeFunc)}
}

// GaugeFunc registers fn under name. Registering the same name twice
// keeps the first registration.
func (r *Registry) GaugeFunc(name, help string, fn func() int64) *GaugeFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &GaugeFunc{name: name, help: help, fn: fn}
	r.gauges[name] = g
	return g
}

// Snapshot samples every gauge once and returns name -> value.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.gauges))
	for name, g := range r.gauges {
		out[name] = g.Value()
	}
	return out
}

// Gauges returns the registered gauges sorted by name.
func (r *Registry) Gauges() []*GaugeFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*GaugeFunc, 0, len(r.gauges))
	for _, g := range r.gauges {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
