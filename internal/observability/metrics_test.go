package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	for _, c := range m.collectors() {
		require.NoError(t, reg.Register(c))
	}

	m.PostsCreated.WithLabelValues("Flood", "CRITICAL").Inc()
	m.HubSubscribers.Set(3)

	var metric dto.Metric
	require.NoError(t, m.PostsCreated.WithLabelValues("Flood", "CRITICAL").Write(&metric))
	assert.InDelta(t, 1, metric.GetCounter().GetValue(), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "alertify_posts_created_total")
	assert.Contains(t, names, "alertify_hub_subscribers")
}
