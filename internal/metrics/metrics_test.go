package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestInit_RegistersCollectorsExactlyOnce(t *testing.T) {
	require.NotPanics(t, func() {
		Init()
		Init()
		Init()
	})
}

func TestJobsAdmitted_IsACounterThatIncrements(t *testing.T) {
	Init()
	before := counterValue(t, JobsAdmitted)
	JobsAdmitted.Inc()
	after := counterValue(t, JobsAdmitted)
	require.Equal(t, before+1, after)
}

func TestStageFailures_IsLabeledByStageName(t *testing.T) {
	Init()
	StageFailures.WithLabelValues("prnu").Inc()
	metric := &dto.Metric{}
	require.NoError(t, StageFailures.WithLabelValues("prnu").(prometheus.Counter).Write(metric))
	require.GreaterOrEqual(t, metric.GetCounter().GetValue(), float64(1))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.GetCounter().GetValue()
}
