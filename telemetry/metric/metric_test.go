//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "custom-metric:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	assert.Equal(t, "custom-metric:4317", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	assert.Equal(t, "generic-endpoint:4317", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", metricsEndpoint("grpc"))
	assert.Equal(t, "localhost:4318", metricsEndpoint("http"))
}

func TestDefaultIsNoop(t *testing.T) {
	inst := Default()
	require.NotNil(t, inst)
	inst.RecordTask(context.Background(), "transform", "succeeded", time.Millisecond)
	inst.RecordRetry(context.Background(), "transform")
	inst.RecordAgentStep(context.Background(), "tool_call")
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := NewInstruments(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordTask(ctx, "tool_call", "failed", 20*time.Millisecond)
	inst.RecordTask(ctx, "tool_call", "failed", 10*time.Millisecond)
	inst.RecordRetry(ctx, "tool_call")
	inst.RecordAgentStep(ctx, "final_answer")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		got[m.Name] = m.Data
	}
	runs, ok := got[NameTaskRuns].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.EqualValues(t, 2, runs.DataPoints[0].Value)

	hist, ok := got[NameTaskDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 2, hist.DataPoints[0].Count)

	assert.Contains(t, got, NameTaskRetries)
	assert.Contains(t, got, NameAgentSteps)
}

func TestStartAndClean(t *testing.T) {
	prevMeter, prevInst := Meter, Default()
	t.Cleanup(func() {
		Meter = prevMeter
		instruments.Store(prevInst)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	clean, err := Start(ctx, WithEndpoint("localhost:4317"), WithServiceName("test"))
	require.NoError(t, err)
	require.NotNil(t, clean)
	assert.NotSame(t, prevInst, Default())
	_ = clean() // no collector is running
}
