//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-pipeline/agent"
	"trpc.group/trpc-go/trpc-agent-pipeline/config"
	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider/builtin"
	"trpc.group/trpc-go/trpc-agent-pipeline/runner"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
	tracestream "trpc.group/trpc-go/trpc-agent-pipeline/runtrace/redis"
	mcpserver "trpc.group/trpc-go/trpc-agent-pipeline/server/mcp"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool/function"
	mcptool "trpc.group/trpc-go/trpc-agent-pipeline/tool/mcp"
	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

const catalogURI = "workbench://tools"

// app holds everything the workbench wires together.
type app struct {
	cfg       *config.Config
	executor  *graph.Executor
	providers *provider.Registry
	// tools are offered to the agent: the tools of the remote MCP servers.
	tools   *tool.Registry
	servers *mcptool.Servers
	runner  *runner.Runner
	// agent is nil when no provider is configured.
	agent  *agent.Agent
	server *mcpserver.Server

	cleanups []func() error
}

// newApp builds the providers of cfg and assembles the app.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	providers := provider.NewRegistry()
	if err := builtin.RegisterAll(ctx, providers, cfg.Providers); err != nil {
		return nil, err
	}
	return assemble(ctx, cfg, providers)
}

func assemble(ctx context.Context, cfg *config.Config, providers *provider.Registry) (*app, error) {
	a := &app{cfg: cfg, providers: providers, tools: tool.NewRegistry(), servers: mcptool.NewServers()}
	if cfg.Telemetry.Enabled {
		if err := a.startTelemetry(ctx); err != nil {
			return nil, err
		}
	}

	execOpts := []graph.Option{
		graph.WithConcurrency(cfg.Scheduler.Concurrency),
		graph.WithDefaultTimeout(cfg.Scheduler.TaskTimeout),
		graph.WithDefaultRetryPolicy(cfg.RetryPolicy()),
	}
	if cfg.Traces.Path != "" {
		sink, err := runtrace.OpenJSONLFile(cfg.Traces.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, sink.Close)
		execOpts = append(execOpts, graph.WithTraceSink(sink))
	}
	if cfg.Traces.RedisURL != "" {
		sink, err := tracestream.OpenSink(ctx, cfg.Traces.RedisURL,
			tracestream.WithStream(cfg.Traces.Stream), tracestream.WithMaxLen(cfg.Traces.MaxLen))
		if err != nil {
			a.close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, sink.Close)
		execOpts = append(execOpts, graph.WithTraceSink(sink))
	}
	a.executor = graph.NewExecutor(execOpts...)
	a.runner = runner.New(a.executor, runner.WithConfig(cfg.Runner))
	a.cleanups = append(a.cleanups, a.runner.Close)

	for _, s := range cfg.MCPServers {
		if s.IsEmbedded() {
			continue
		}
		if err := a.servers.Add(mcptool.NewToolSet(s.ConnectionConfig, s.ToolSetOptions()...)); err != nil {
			a.close()
			return nil, err
		}
	}
	a.cleanups = append(a.cleanups, a.servers.Close)
	if err := a.servers.AttachAll(ctx, a.tools); err != nil {
		log.Warnf("some mcp servers are unavailable: %v", err)
	}

	if name := cfg.AgentProvider(); name != "" {
		p, err := providers.Get(name)
		if err != nil {
			a.close()
			return nil, err
		}
		opts := []agent.Option{agent.WithExecutor(a.executor), agent.WithMaxTokens(cfg.Agent.MaxTokens)}
		if cfg.Agent.SystemPrompt != "" {
			opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
		}
		if cfg.Agent.NativeTools != nil {
			opts = append(opts, agent.WithNativeTools(*cfg.Agent.NativeTools))
		}
		a.agent = agent.New(p, opts...)
	}

	server, err := a.buildServer()
	if err != nil {
		a.close()
		return nil, err
	}
	a.server = server
	a.cleanups = append(a.cleanups, server.Close)
	if err := a.bindEmbedded(ctx); err != nil {
		a.close()
		return nil, err
	}
	log.Infof("workbench ready: %d providers, %d tools, agent=%t",
		len(providers.Names()), a.tools.Snapshot().Len(), a.agent != nil)
	return a, nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	t := a.cfg.Telemetry
	traceOpts := []trace.Option{trace.WithProtocol(t.Protocol), trace.WithHeaders(t.Headers)}
	metricOpts := []metric.Option{metric.WithProtocol(t.Protocol), metric.WithHeaders(t.Headers)}
	if t.ServiceName != "" {
		traceOpts = append(traceOpts, trace.WithServiceName(t.ServiceName))
		metricOpts = append(metricOpts, metric.WithServiceName(t.ServiceName))
	}
	if t.TracesEndpoint != "" {
		traceOpts = append(traceOpts, trace.WithEndpoint(t.TracesEndpoint))
	}
	if t.MetricsEndpoint != "" {
		metricOpts = append(metricOpts, metric.WithEndpoint(t.MetricsEndpoint))
	}
	cleanTrace, err := trace.Start(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	a.cleanups = append(a.cleanups, cleanTrace)
	cleanMetric, err := metric.Start(ctx, metricOpts...)
	if err != nil {
		a.close()
		return fmt.Errorf("start metrics: %w", err)
	}
	a.cleanups = append(a.cleanups, cleanMetric)
	return nil
}

type askInput struct {
	Prompt string `json:"prompt"`
}

type askOutput struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
	Answer string `json:"answer,omitempty"`
	Steps  int    `json:"steps"`
	Error  string `json:"error,omitempty"`
}

// buildServer exposes the agent tools, run_agent, run_plan and read_trace,
// an agent prompt and the tool catalog.
func (a *app) buildServer() (*mcpserver.Server, error) {
	exposed := tool.NewRegistry()
	snap := a.tools.Snapshot()
	for _, name := range snap.Names() {
		t, _ := snap.Lookup(name)
		if err := exposed.Register(t); err != nil {
			return nil, err
		}
	}
	own := []tool.CallableTool{
		function.NewFunctionTool(a.runPlan,
			function.WithName("run_plan"),
			function.WithDescription("Run a declarative plan of tool steps and return the output of each step."),
		),
		function.NewFunctionTool(a.readTrace,
			function.WithName("read_trace"),
			function.WithDescription("Return the sealed trace of a finished run."),
		),
	}
	if a.agent != nil {
		own = append(own, function.NewFunctionTool(a.ask,
			function.WithName("run_agent"),
			function.WithDescription("Run the workbench agent on a prompt and return its answer."),
		))
	}
	if err := exposed.RegisterAll(own...); err != nil {
		return nil, err
	}

	c := a.cfg.Server
	opts := []mcpserver.Option{
		mcpserver.WithServerInfo(c.Name, c.Version),
		mcpserver.WithPath(c.Path),
	}
	if c.Concurrency > 0 {
		opts = append(opts, mcpserver.WithConcurrency(c.Concurrency))
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, mcpserver.WithRequestTimeout(c.RequestTimeout))
	}
	if len(c.AllowedOrigins) > 0 {
		opts = append(opts, mcpserver.WithAllowedOrigins(c.AllowedOrigins...))
	}
	s := mcpserver.New(exposed, opts...)
	if err := s.RegisterPrompt(mcp.Prompt{
		Name:        "agent",
		Description: "The instructions the workbench agent plans with, followed by a question.",
		Arguments:   []mcp.PromptArgument{{Name: "question", Required: true}},
	}, a.renderAgentPrompt); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.RegisterResource(mcp.Resource{
		URI:         catalogURI,
		Name:        "tool catalog",
		Description: "Declarations of the tools the agent can call.",
		MimeType:    "application/json",
	}, a.readCatalog); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// bindEmbedded attaches the configured servers that use the embedded
// transport to the workbench server itself.
func (a *app) bindEmbedded(ctx context.Context) error {
	handler := a.server.Handler()
	for _, c := range a.cfg.MCPServers {
		if !c.IsEmbedded() {
			continue
		}
		conn := c.ConnectionConfig
		conn.Handler = handler
		if conn.Path == "" {
			conn.Path = a.server.Path()
		}
		ts := mcptool.NewToolSet(conn, c.ToolSetOptions()...)
		if err := a.servers.Add(ts); err != nil {
			return err
		}
		if _, err := ts.Attach(ctx, a.tools); err != nil {
			log.Warnf("embedded mcp server %s is unavailable: %v", c.Name, err)
		}
	}
	return nil
}

// ask runs the agent to completion. Abandoning the call cancels the run.
func (a *app) ask(ctx context.Context, in askInput) (askOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return askOutput{}, errors.New("prompt is required")
	}
	h, err := a.runner.SubmitAgent(ctx, a.agent, in.Prompt, a.tools, a.cfg.Budget())
	if err != nil {
		return askOutput{}, err
	}
	out, err := a.runner.Wait(ctx, h)
	if err != nil {
		_ = a.runner.Cancel(h)
		return askOutput{}, err
	}
	res := askOutput{RunID: string(h), Reason: out.Status}
	if out.Agent != nil {
		res.Answer = out.Agent.Answer
		res.Steps = out.Agent.Steps
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res, nil
}

func (a *app) renderAgentPrompt(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	system := agent.DefaultSystemPrompt
	if a.cfg.Agent.SystemPrompt != "" {
		system = a.cfg.Agent.SystemPrompt
	}
	return mcpserver.TextPrompt("Workbench agent prompt", system+"\n\nQuestion: "+args["question"]), nil
}

func (a *app) readCatalog(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
	bts, err := json.Marshal(a.tools.Snapshot().Declarations())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(bts)},
	}, nil
}

type traceInput struct {
	RunID string `json:"run_id"`
}

func (a *app) readTrace(_ context.Context, in traceInput) (runtrace.Record, error) {
	out, ok, err := a.runner.Outcome(runner.Handle(in.RunID))
	if err != nil {
		return runtrace.Record{}, err
	}
	if !ok {
		return runtrace.Record{}, fmt.Errorf("run %s has not finished", in.RunID)
	}
	if out.Trace == nil {
		return runtrace.Record{}, fmt.Errorf("run %s has no trace", in.RunID)
	}
	return out.Trace.Record(), nil
}

// planInput carries the plan as an object or as JSON text.
type planInput struct {
	Plan any `json:"plan"`
}

type planOutput struct {
	RunID   string            `json:"run_id"`
	Status  string            `json:"status"`
	Outputs map[string]any    `json:"outputs,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// runPlan runs a plan against the agent tools and waits for it.
func (a *app) runPlan(ctx context.Context, in planInput) (planOutput, error) {
	var data []byte
	if text, ok := in.Plan.(string); ok {
		data = []byte(text)
	} else {
		var err error
		if data, err = json.Marshal(in.Plan); err != nil {
			return planOutput{}, err
		}
	}
	g, err := graph.PlanFromJSON(data, a.tools.Snapshot())
	if err != nil {
		return planOutput{}, err
	}
	h, err := a.runner.SubmitPipeline(ctx, g, nil)
	if err != nil {
		return planOutput{}, err
	}
	out, err := a.runner.Wait(ctx, h)
	if err != nil {
		_ = a.runner.Cancel(h)
		return planOutput{}, err
	}
	res := planOutput{RunID: string(h), Status: out.Status}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if p := out.Pipeline; p != nil {
		res.Outputs = p.Outputs
		if len(p.Errors) > 0 {
			res.Errors = make(map[string]string, len(p.Errors))
			for id, e := range p.Errors {
				res.Errors[id] = e.Error()
			}
		}
	}
	return res, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}
	a.cleanups = nil
}
