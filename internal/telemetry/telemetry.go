//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the span names, attribute keys and helpers shared by
// the tracing and metric packages.
package telemetry

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
)

// telemetry service constants.
const (
	ServiceName      = "workbench"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-agent-pipeline"
	InstrumentName   = "trpc.agent.pipeline"

	SpanNameExecuteGraph      = "execute_graph"
	SpanNamePrefixExecuteTask = "execute_task"
	SpanNameAgentRun          = "agent_run"
	SpanNameCallModel         = "call_model"
	SpanNamePrefixExecuteTool = "execute_tool"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyRunID         = "trpc.go.agent.run_id"
	KeyRunKind       = "trpc.go.agent.run_kind"
	KeyTaskID        = "trpc.go.agent.task_id"
	KeyTaskKind      = "trpc.go.agent.task_kind"
	KeyTaskStatus    = "trpc.go.agent.task_status"
	KeyTaskAttempts  = "trpc.go.agent.task_attempts"
	KeyAgentStep     = "trpc.go.agent.step"
	KeyAgentReason   = "trpc.go.agent.termination_reason"
	KeyError         = "trpc.go.agent.error"
	KeyModelRequest  = "trpc.go.agent.llm_request"
	KeyModelResponse = "trpc.go.agent.llm_response"
	KeyToolArgs      = "trpc.go.agent.tool_call_args"
	KeyToolResponse  = "trpc.go.agent.tool_response"
)

// TraceCallModel records a provider request and its response on the span.
func TraceCallModel(span trace.Span, info provider.Info, req *provider.Request, rsp *provider.Response) {
	span.SetAttributes(
		attribute.String("gen_ai.system", info.Vendor),
		attribute.String("gen_ai.request.model", info.Model),
		attribute.String("trpc.go.agent.provider", info.Name),
	)
	span.SetAttributes(attribute.String(KeyModelRequest, marshalAttr(req)))
	if rsp != nil {
		span.SetAttributes(attribute.String(KeyModelResponse, marshalAttr(rsp)))
	}
}

// TraceToolCall records a tool invocation on the span.
func TraceToolCall(span trace.Span, name string, args []byte, result any) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", name),
		attribute.String(KeyToolArgs, string(args)),
		attribute.String(KeyToolResponse, marshalAttr(result)),
	)
}

func marshalAttr(v any) string {
	bts, err := json.Marshal(v)
	if err != nil {
		return "<not json serializable>"
	}
	return string(bts)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
