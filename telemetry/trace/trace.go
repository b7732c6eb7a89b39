//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package trace exports pipeline and agent spans through OpenTelemetry.
//
// Tracer is a noop tracer until Start installs an OTLP exporter, so packages can
// open spans unconditionally.
package trace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	itelemetry "trpc.group/trpc-go/trpc-agent-pipeline/internal/telemetry"
)

// TracerProvider is the global tracer provider for telemetry.
var TracerProvider trace.TracerProvider = noop.NewTracerProvider()

// Tracer is the global tracer instance for telemetry.
var Tracer trace.Tracer = TracerProvider.Tracer("")

// Start installs an OTLP span exporter and replaces Tracer.
//
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are used
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
	if options.tracesEndpoint == "" {
		options.tracesEndpoint = tracesEndpoint(options.protocol)
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

	var exporter sdktrace.SpanExporter
	switch options.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = newHTTPExporter(ctx, options)
	default:
		exporter, err = newGRPCExporter(ctx, options)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	TracerProvider = provider
	Tracer = provider.Tracer(itelemetry.InstrumentName)
	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown TracerProvider: %w", err)
		}
		return nil
	}, nil
}

// Option is a function that configures tracer options.
type Option func(*options)

type options struct {
	tracesEndpoint    string
	tracesEndpointURL string
	serviceName       string
	serviceVersion    string
	serviceNamespace  string
	protocol          string
	headers           map[string]string
}

// WithEndpoint sets the traces endpoint (host and port), e.g. "example.com:4317".
// It takes precedence over the OTEL_EXPORTER_OTLP_* environment variables.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.tracesEndpoint = endpoint
	}
}

// WithEndpointURL sets the full endpoint URL (scheme, host, port, path).
// Only the HTTP exporter honours the path component.
func WithEndpointURL(endpointURL string) Option {
	return func(opts *options) {
		opts.tracesEndpointURL = endpointURL
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

func tracesEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); endpoint != "" {
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

// parseEndpointURL splits "http://localhost:3000/api/public/otel" into
// "localhost:3000" and "/api/public/otel". A missing scheme defaults to http.
func parseEndpointURL(endpointURL string) (endpoint, urlPath string, err error) {
	raw := endpointURL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse URL %q: %w", endpointURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("no host found in URL %q", endpointURL)
	}
	urlPath = u.Path
	if urlPath == "" {
		urlPath = "/"
	}
	return u.Host, urlPath, nil
}

func newGRPCExporter(ctx context.Context, opts *options) (sdktrace.SpanExporter, error) {
	endpoint := opts.tracesEndpoint
	if opts.tracesEndpointURL != "" {
		host, _, err := parseEndpointURL(opts.tracesEndpointURL)
		if err != nil {
			return nil, err
		}
		endpoint = host
	}
	conn, err := itelemetry.NewGRPCConn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize traces connection: %w", err)
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(opts.headers),
	)
}

func newHTTPExporter(ctx context.Context, opts *options) (sdktrace.SpanExporter, error) {
	otelOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.tracesEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithHeaders(opts.headers),
	}
	if opts.tracesEndpointURL != "" {
		endpoint, urlPath, err := parseEndpointURL(opts.tracesEndpointURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse endpoint URL %q: %w", opts.tracesEndpointURL, err)
		}
		otelOpts = append(otelOpts,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithURLPath(urlPath),
		)
	}
	return otlptracehttp.New(ctx, otelOpts...)
}
