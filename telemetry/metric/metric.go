//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric exports pipeline and agent counters through OpenTelemetry.
package metric

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "trpc.group/trpc-go/trpc-agent-pipeline/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

// Instrument names.
const (
	NameTaskRuns     = "pipeline.task.runs"
	NameTaskRetries  = "pipeline.task.retries"
	NameTaskDuration = "pipeline.task.duration"
	NameAgentSteps   = "agent.steps"
)

var (
	// Meter is the global OpenTelemetry meter.
	Meter metric.Meter = noopm.Meter{}

	instruments atomic.Pointer[Instruments]
)

func init() {
	inst, _ := NewInstruments(Meter)
	instruments.Store(inst)
}

// Instruments bundles the counters recorded by the scheduler and the agent loop.
type Instruments struct {
	TaskRuns     metric.Int64Counter
	TaskRetries  metric.Int64Counter
	TaskDuration metric.Float64Histogram
	AgentSteps   metric.Int64Counter
}

// NewInstruments creates the instruments on m.
func NewInstruments(m metric.Meter) (*Instruments, error) {
	runs, err := m.Int64Counter(NameTaskRuns,
		metric.WithDescription("Finished pipeline tasks by kind and status."))
	if err != nil {
		return nil, err
	}
	retries, err := m.Int64Counter(NameTaskRetries,
		metric.WithDescription("Retried task attempts."))
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram(NameTaskDuration,
		metric.WithDescription("Task wall time across attempts."), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	steps, err := m.Int64Counter(NameAgentSteps,
		metric.WithDescription("Completed agent loop steps."))
	if err != nil {
		return nil, err
	}
	return &Instruments{TaskRuns: runs, TaskRetries: retries, TaskDuration: duration, AgentSteps: steps}, nil
}

// Default returns the instruments bound to the current Meter.
func Default() *Instruments {
	return instruments.Load()
}

// RecordTask counts a finished task.
func (i *Instruments) RecordTask(ctx context.Context, kind, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(itelemetry.KeyTaskKind, kind),
		attribute.String(itelemetry.KeyTaskStatus, status),
	)
	i.TaskRuns.Add(ctx, 1, attrs)
	i.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRetry counts one retry of a task.
func (i *Instruments) RecordRetry(ctx context.Context, kind string) {
	i.TaskRetries.Add(ctx, 1, metric.WithAttributes(attribute.String(itelemetry.KeyTaskKind, kind)))
}

// RecordAgentStep counts one completed agent step.
func (i *Instruments) RecordAgentStep(ctx context.Context, action string) {
	i.AgentSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("trpc.go.agent.action", action)))
}

// Start installs an OTLP metric exporter, replaces Meter and rebinds Default.
//
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are used
// when no endpoint option is given.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.metricsEndpoint == "" {
		options.metricsEndpoint = metricsEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch options.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(options.metricsEndpoint),
			otlpmetrichttp.WithInsecure(),
			otlpmetrichttp.WithHeaders(options.headers),
		)
	default:
		conn, connErr := itelemetry.NewGRPCConn(options.metricsEndpoint)
		if connErr != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", connErr)
		}
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithGRPCConn(conn),
			otlpmetricgrpc.WithHeaders(options.headers),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	Meter = provider.Meter(itelemetry.InstrumentName)
	inst, err := NewInstruments(Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	instruments.Store(inst)
	log.Debugf("metrics exported via %s to %s", options.protocol, options.metricsEndpoint)

	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// Option is a function that configures meter options.
type Option func(*options)

type options struct {
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
	protocol         string
	headers          map[string]string
}

// WithEndpoint sets the metrics endpoint (host and port), e.g. "example.com:4317".
// It takes precedence over the OTEL_EXPORTER_OTLP_* environment variables.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.metricsEndpoint = endpoint
	}
}

// WithProtocol sets the export protocol, "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

// WithHeaders sets the headers sent with every export request.
func WithHeaders(headers map[string]string) Option {
	return func(opts *options) {
		opts.headers = headers
	}
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(opts *options) {
		opts.serviceName = name
	}
}
