// Package stats provides process-wide runtime counters.
//
// Counters are grouped into named sections ("ACT_MON", "SQL", "EVENT", ...)
// and mutated through Inc/Dec/Set. The registry doubles as a prometheus
// Collector so the same numbers are served on /metrics.
package stats

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a thread-safe section/name -> value mapping.
type Registry struct {
	mu       sync.RWMutex
	sections map[string]map[string]float64
}

// NewRegistry creates an empty stats registry.
func NewRegistry() *Registry {
	return &Registry{
		sections: make(map[string]map[string]float64),
	}
}

func (r *Registry) section(name string) map[string]float64 {
	s, ok := r.sections[name]
	if !ok {
		s = make(map[string]float64)
		r.sections[name] = s
	}
	return s
}

// Set sets a counter to an explicit value.
func (r *Registry) Set(section, name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.section(section)[name] = value
}

// Inc increments a counter by one.
func (r *Registry) Inc(section, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.section(section)[name]++
}

// Dec decrements a counter by one.
func (r *Registry) Dec(section, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.section(section)[name]--
}

// Get returns the current value of a counter (zero if never set).
func (r *Registry) Get(section, name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sections[section][name]
}

// Snapshot returns a copy of all sections and their counters.
func (r *Registry) Snapshot() map[string]map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]float64, len(r.sections))
	for section, counters := range r.sections {
		c := make(map[string]float64, len(counters))
		for name, value := range counters {
			c[name] = value
		}
		out[section] = c
	}
	return out
}

// Describe implements prometheus.Collector. The metric set is dynamic, so
// an unchecked collector (empty describe) is used.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector, exporting every counter as a
// gauge named upwatch_<section>_<counter>.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for section, counters := range r.Snapshot() {
		for name, value := range counters {
			fqName := "upwatch_" + metricName(section) + "_" + metricName(name)
			desc := prometheus.NewDesc(fqName, "upwatch runtime counter", nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value)
		}
	}
}

func metricName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", "_"))
}
