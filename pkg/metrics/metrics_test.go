package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheObserver(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	obs := m.ForCache("decision")

	obs.Hit()
	obs.Hit()
	obs.Miss()
	obs.Evicted()
	obs.Expired(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("decision")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("decision")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions.WithLabelValues("decision")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheExpired.WithLabelValues("decision")))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("test", prometheus.NewRegistry())
		NewMetrics("test", prometheus.NewRegistry())
	})
}
