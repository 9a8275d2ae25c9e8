package streamcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "streamcache"

// metrics holds the Prometheus collectors of one Cache. A nil *metrics is
// valid and records nothing.
type metrics struct {
	entries      prometheus.Counter
	spills       prometheus.Counter
	spilledBytes prometheus.Counter
	spillErrors  prometheus.Counter
	disposals    prometheus.Counter
}

func newMetrics(c *Cache, reg prometheus.Registerer) (*metrics, error) {
	name := c.name
	if name == "" {
		name = "default"
	}
	labels := prometheus.Labels{"cache": name}

	counter := func(metric, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(metric, help string, fn func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}

	m := &metrics{
		entries:      counter("entries_created_total", "Number of stream cache entries created."),
		spills:       counter("spills_total", "Number of entries moved from memory to a spill file."),
		spilledBytes: counter("spilled_bytes_total", "Bytes written to spill files."),
		spillErrors:  counter("spill_errors_total", "Number of failed spill file operations."),
		disposals:    counter("disposals_total", "Number of disposed entries."),
	}

	collectors := []prometheus.Collector{
		m.entries,
		m.spills,
		m.spilledBytes,
		m.spillErrors,
		m.disposals,
		gauge("live_entries", "Entries neither disposed nor garbage collected.", func() float64 {
			return float64(c.Live())
		}),
		gauge("pool_memory_bytes", "Bytes held in memory by live entries.", func() float64 {
			return float64(c.CurrentPoolMemory())
		}),
		gauge("pool_memory_limit_bytes", "Configured pool memory limit.", func() float64 {
			return float64(c.maxPoolMemory)
		}),
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *metrics) created() {
	if m == nil {
		return
	}
	m.entries.Inc()
}

func (m *metrics) spilled(bytes int64) {
	if m == nil {
		return
	}
	m.spills.Inc()
	m.spilledBytes.Add(float64(bytes))
}

// appended counts bytes written to a spill file after the spill itself.
func (m *metrics) appended(bytes int64) {
	if m == nil {
		return
	}
	m.spilledBytes.Add(float64(bytes))
}

func (m *metrics) spillFailed() {
	if m == nil {
		return
	}
	m.spillErrors.Inc()
}

func (m *metrics) disposed() {
	if m == nil {
		return
	}
	m.disposals.Inc()
}
