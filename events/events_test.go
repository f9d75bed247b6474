package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopSinkDiscardsEverything(t *testing.T) {
	var s Nop
	s.Emit(ConnectionAccepted)
}

func TestMultiFansOutToEachSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewPrometheusSink(reg)
	multi := Multi{prom, NewSlogSink(nil)}

	multi.Emit(ConnectionAccepted)

	metric := &dto.Metric{}
	require.NoError(t, prom.connectionsAccepted.Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestPrometheusSinkRecordsQueryExecuted(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewPrometheusSink(reg)

	prom.Emit(QueryExecuted, Float64("duration_ms", 12.5), Int("rows", 3))

	metric := &dto.Metric{}
	require.NoError(t, prom.queryDuration.Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestPrometheusSinkLabelsTranslatorWarnings(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewPrometheusSink(reg)

	prom.Emit(TranslatorWarn, String("rule", "vector_operator"))

	metric := &dto.Metric{}
	require.NoError(t, prom.translatorWarnings.WithLabelValues("vector_operator").Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
