package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Unregistered(t *testing.T) {
	m1 := NewMetricsForTesting()
	m2 := NewMetricsForTesting()

	m1.MatchesCreated.Add(3)
	m2.MatchesCreated.Inc()
	assert.Equal(t, 3.0, testutil.ToFloat64(m1.MatchesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.MatchesCreated))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m1.ParseErrors))
	m1.ParseErrors.WithLabelValues("reception").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.ParseErrors.WithLabelValues("reception")))
}
