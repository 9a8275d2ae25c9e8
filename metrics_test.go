package streamcache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gather returns the value of every single-series metric in reg, by name.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1, mf.GetName())
		m := mf.GetMetric()[0]
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	return values
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache, _ := setupTestCache(t,
		WithMetrics(reg),
		WithName("uploads"),
		WithMaxPoolMemory(1000),
		WithMaxInstanceMemory(10),
	)

	mem := cache.NewWriter(nil)
	_, err := mem.WriteString("tiny")
	require.NoError(t, err)

	disk := cache.NewWriter(nil)
	_, err = disk.Write(patterned(25))
	require.NoError(t, err)
	_, err = disk.WriteString("after")
	require.NoError(t, err)
	require.Equal(t, ModeFile, disk.Mode())

	values := gather(t, reg)
	assert.Equal(t, 2.0, values["streamcache_entries_created_total"])
	assert.Equal(t, 1.0, values["streamcache_spills_total"])
	assert.Equal(t, 30.0, values["streamcache_spilled_bytes_total"])
	assert.Equal(t, 2.0, values["streamcache_live_entries"])
	assert.Equal(t, 4.0, values["streamcache_pool_memory_bytes"])
	assert.Equal(t, 1000.0, values["streamcache_pool_memory_limit_bytes"])

	require.NoError(t, mem.Dispose())
	require.NoError(t, disk.Dispose())

	values = gather(t, reg)
	assert.Equal(t, 2.0, values["streamcache_disposals_total"])
	assert.Zero(t, values["streamcache_live_entries"])
	assert.Zero(t, values["streamcache_pool_memory_bytes"])

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		labels := mf.GetMetric()[0].GetLabel()
		require.Len(t, labels, 1)
		assert.Equal(t, "cache", labels[0].GetName())
		assert.Equal(t, "uploads", labels[0].GetValue())
	}
}

func TestMetricsDuplicateName(t *testing.T) {
	reg := prometheus.NewRegistry()
	setupTestCache(t, WithMetrics(reg), WithName("shared"))

	_, err := Open(testCacheDir, WithFs(afero.NewMemMapFs()), WithMetrics(reg), WithName("shared"))
	assert.Error(t, err)

	_, err = Open(testCacheDir, WithFs(afero.NewMemMapFs()), WithMetrics(reg), WithName("other"))
	assert.NoError(t, err)
}
