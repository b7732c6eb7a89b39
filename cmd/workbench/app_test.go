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
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-pipeline/config"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
	tracestream "trpc.group/trpc-go/trpc-agent-pipeline/runtrace/redis"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
	mcptool "trpc.group/trpc-go/trpc-agent-pipeline/tool/mcp"
)

// client is an MCP client of the workbench server, connected in process.
type client struct {
	*mcptool.ToolSet
	tools *tool.Registry
}

func connect(t *testing.T, a *app) *client {
	t.Helper()
	ts := mcptool.NewToolSet(mcptool.Embedded(a.server.Handler(), a.server.Path()), mcptool.WithName("workbench"))
	t.Cleanup(func() { _ = ts.Close() })
	reg := tool.NewRegistry()
	_, err := ts.Attach(context.Background(), reg)
	require.NoError(t, err)
	return &client{ToolSet: ts, tools: reg}
}

// call invokes a served tool and decodes its JSON text result into out.
func (c *client) call(t *testing.T, name string, args, out any) error {
	t.Helper()
	bts, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := c.tools.Invoke(context.Background(), name, bts)
	if err != nil {
		return err
	}
	text, ok := res.(string)
	require.True(t, ok, "result of %s is %T", name, res)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text), out))
	}
	return nil
}

func answering(answer string) provider.Provider {
	return &provider.Func{
		Meta: provider.Info{Name: "fake", Vendor: "test"},
		Fn: func(context.Context, *provider.Request) (*provider.Response, error) {
			return &provider.Response{Text: fmt.Sprintf(`{"final_answer": %q}`, answer)}, nil
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers ...provider.Provider) *app {
	t.Helper()
	reg := provider.NewRegistry()
	for _, p := range providers {
		require.NoError(t, reg.Register(p))
	}
	a, err := assemble(context.Background(), cfg, reg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestAppWithoutProvider(t *testing.T) {
	a := newTestApp(t, config.Default())
	assert.Nil(t, a.agent)
	c := connect(t, a)
	ctx := context.Background()

	assert.ElementsMatch(t, []string{"run_plan", "read_trace"}, c.tools.Snapshot().Names())

	prompts, err := c.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "agent", prompts[0].Name)

	res, err := c.GetPrompt(ctx, "agent", map[string]string{"question": "why?"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Question: why?")

	_, err = c.GetPrompt(ctx, "agent", nil)
	assert.Error(t, err)

	contents, err := c.ReadResource(ctx, catalogURI)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	catalog, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", catalog.MIMEType)

	err = c.call(t, "read_trace", map[string]string{"run_id": "missing"}, nil)
	assert.Error(t, err)

	assert.Error(t, a.answer(ctx, "anything"))
}

func TestAppRunAgentAndReadTrace(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Provider = "fake"
	cfg.Traces.Path = filepath.Join(t.TempDir(), "traces.jsonl")
	a := newTestApp(t, cfg, answering("42"))
	require.NotNil(t, a.agent)
	c := connect(t, a)

	var out askOutput
	require.NoError(t, c.call(t, "run_agent", map[string]string{"prompt": "meaning of life"}, &out))
	assert.Equal(t, "answered", out.Reason)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, 1, out.Steps)
	require.NotEmpty(t, out.RunID)

	var record runtrace.Record
	require.NoError(t, c.call(t, "read_trace", map[string]string{"run_id": out.RunID}, &record))
	assert.Equal(t, out.RunID, record.RunID)
	assert.Equal(t, runtrace.KindAgent, record.Kind)
	assert.NotEmpty(t, record.Entries)

	err := c.call(t, "run_agent", map[string]string{"prompt": " "}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt is required")

	require.NoError(t, a.answer(context.Background(), "again"))
}

func TestAppEmbeddedServerAndPlan(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Provider = "fake"
	cfg.MCPServers = []config.MCPServerConfig{{
		Name:             "self",
		ConnectionConfig: mcptool.ConnectionConfig{Transport: "embedded"},
		ToolPrefix:       "self",
	}}
	require.NoError(t, cfg.Validate())
	a := newTestApp(t, cfg, answering("plan done"))

	assert.Equal(t, []string{"self"}, a.servers.Names())
	assert.ElementsMatch(t, []string{"self_run_plan", "self_read_trace", "self_run_agent"}, a.tools.Snapshot().Names())

	c := connect(t, a)
	plan := map[string]any{
		"id": "ask-then-trace",
		"steps": []any{
			map[string]any{"tool": "self_run_agent", "input": map[string]any{"prompt": "go"}, "saveAs": "ask"},
			map[string]any{"tool": "self_read_trace", "input": map[string]any{
				"run_id": map[string]any{"$var": "ask", "$ptr": "/run_id"},
			}},
		},
	}
	var out planOutput
	require.NoError(t, c.call(t, "run_plan", map[string]any{"plan": plan}, &out))
	require.Equal(t, "success", out.Status, "errors: %v %s", out.Errors, out.Error)
	require.Len(t, out.Outputs, 2)

	var ask askOutput
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprint(out.Outputs["self_run_agent#1"])), &ask))
	assert.Equal(t, "plan done", ask.Answer)
	var record runtrace.Record
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprint(out.Outputs["self_read_trace#2"])), &record))
	assert.Equal(t, ask.RunID, record.RunID)

	err := c.call(t, "run_plan", map[string]any{"plan": `{"steps": [{"tool": "nope"}]}`}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tools [nope]")
}

func TestAppStreamsTracesToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.Default()
	cfg.Agent.Provider = "fake"
	cfg.Traces.RedisURL = "redis://" + mr.Addr()
	cfg.Traces.Stream = "runs"
	a := newTestApp(t, cfg, answering("yes"))
	require.NoError(t, a.answer(context.Background(), "is it on?"))

	sink, err := tracestream.OpenSink(context.Background(), cfg.Traces.RedisURL, tracestream.WithStream("runs"))
	require.NoError(t, err)
	defer sink.Close()
	recs, err := sink.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, runtrace.KindAgent, recs[0].Kind)
}

func TestAppRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Traces.RedisURL = "redis://" + addr
	_, err = assemble(context.Background(), cfg, provider.NewRegistry())
	require.Error(t, err)
}
