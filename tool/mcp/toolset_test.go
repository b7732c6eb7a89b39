//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// fakeSession serves a fixed tool list. Calls to "echo" return the arguments,
// calls to "fail" return a remote tool error.
type fakeSession struct {
	mu     sync.Mutex
	tools  []remoteTool
	lost   bool
	closed bool
	calls  []map[string]any
}

func (f *fakeSession) listTools(context.Context) ([]remoteTool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost {
		return nil, errors.New("transport is closed")
	}
	return append([]remoteTool(nil), f.tools...), nil
}

func (f *fakeSession) callTool(_ context.Context, name string, args map[string]any) (*callResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost {
		return nil, errors.New("write: broken pipe")
	}
	f.calls = append(f.calls, args)
	switch name {
	case "echo":
		return &callResult{texts: []string{fmt.Sprint(args["text"])}}, nil
	case "fail":
		return &callResult{texts: []string{"boom"}, isError: true}, nil
	default:
		return nil, fmt.Errorf("tool %s not found", name)
	}
}

func (f *fakeSession) listPrompts(context.Context) ([]mcp.Prompt, error) {
	if f.isLost() {
		return nil, errors.New("transport is closed")
	}
	return []mcp.Prompt{{Name: "greet"}}, nil
}

func (f *fakeSession) getPrompt(_ context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	if f.isLost() {
		return nil, errors.New("transport is closed")
	}
	return &mcp.GetPromptResult{Description: name + " " + args["who"]}, nil
}

func (f *fakeSession) listResources(context.Context) ([]mcp.Resource, error) {
	if f.isLost() {
		return nil, errors.New("transport is closed")
	}
	return []mcp.Resource{{Name: "readme", URI: "file:///readme"}}, nil
}

func (f *fakeSession) readResource(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
	if f.isLost() {
		return nil, errors.New("transport is closed")
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, Text: "hello"}}, nil
}

func (f *fakeSession) isLost() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost
}

func (f *fakeSession) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) setLost() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = true
}

func (f *fakeSession) setTools(tools ...remoteTool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

var textSchema = &tool.Schema{
	Type:       tool.TypeObject,
	Properties: map[string]*tool.Schema{"text": {Type: "string"}},
	Required:   []string{"text"},
}

func defaultTools() []remoteTool {
	return []remoteTool{
		{name: "echo", description: "Echo text", schema: textSchema},
		{name: "fail", description: "Always fails"},
	}
}

// withSessions makes dial hand out the given sessions in order.
func withSessions(sessions ...*fakeSession) (ToolSetOption, *int) {
	dials := 0
	var mu sync.Mutex
	return func(c *toolSetConfig) {
		c.dial = func(context.Context, ConnectionConfig, []mcp.ClientOption) (session, error) {
			mu.Lock()
			defer mu.Unlock()
			if dials >= len(sessions) {
				return nil, errors.New("connection refused")
			}
			s := sessions[dials]
			dials++
			return s, nil
		}
	}, &dials
}

func newTestSet(t *testing.T, opts ...ToolSetOption) *ToolSet {
	t.Helper()
	cfg := ConnectionConfig{Transport: "stdio", Command: "fake"}
	ts := NewToolSet(cfg, append([]ToolSetOption{WithName("fake")}, opts...)...)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func TestToolSetToolsAndCall(t *testing.T) {
	sess := &fakeSession{tools: defaultTools()}
	dial, dials := withSessions(sess)
	ts := newTestSet(t, dial)

	state, _ := ts.State()
	assert.Equal(t, StateIdle, state)

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, 1, *dials)
	state, _ = ts.State()
	assert.Equal(t, StateConnected, state)

	decl := tools[0].Declaration()
	assert.Equal(t, "echo", decl.Name)
	assert.Equal(t, "Echo text", decl.Description)
	assert.Equal(t, textSchema, decl.InputSchema)

	out, err := tools[0].Call(context.Background(), []byte(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = tools[1].Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, errors.Is(err, provider.ErrProviderUnavailable))
	assert.Equal(t, map[string]any{}, sess.calls[1])

	_, err = ts.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *dials)
}

func TestToolSetPrefixAndFilter(t *testing.T) {
	sess := &fakeSession{tools: defaultTools()}
	dial, _ := withSessions(sess)
	ts := newTestSet(t, dial, WithToolPrefix("srv"), WithToolFilter(NewExcludeFilter("fail")))

	reg := tool.NewRegistry()
	names, err := ts.Attach(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv_echo"}, names)

	out, err := reg.Invoke(context.Background(), "srv_echo", []byte(`{"text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	_, err = reg.Invoke(context.Background(), "srv_echo", []byte(`{}`))
	assert.ErrorIs(t, err, tool.ErrSchemaMismatch)
}

func TestToolSetConnectionLost(t *testing.T) {
	first := &fakeSession{tools: defaultTools()}
	second := &fakeSession{tools: defaultTools()}
	dial, dials := withSessions(first, second)
	ts := newTestSet(t, dial)

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	echo := tools[0]

	first.setLost()
	_, err = echo.Call(context.Background(), []byte(`{"text":"hi"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	state, cause := ts.State()
	assert.Equal(t, StateDisconnected, state)
	assert.Error(t, cause)

	// No silent reconnect.
	_, err = echo.Call(context.Background(), []byte(`{"text":"hi"}`))
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	_, err = ts.Tools(context.Background())
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, 1, *dials)

	require.NoError(t, ts.Reconnect(context.Background()))
	assert.Equal(t, 2, *dials)
	assert.True(t, first.closed)
	out, err := echo.Call(context.Background(), []byte(`{"text":"back"}`))
	require.NoError(t, err)
	assert.Equal(t, "back", out)
}

func TestToolSetDialFailure(t *testing.T) {
	dial, _ := withSessions()
	ts := newTestSet(t, dial)
	_, err := ts.Tools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	state, _ := ts.State()
	assert.Equal(t, StateIdle, state)
}

func TestToolSetClose(t *testing.T) {
	sess := &fakeSession{tools: defaultTools()}
	dial, _ := withSessions(sess, &fakeSession{})
	ts := newTestSet(t, dial)
	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)

	require.NoError(t, ts.Close())
	assert.True(t, sess.closed)
	_, err = tools[0].Call(context.Background(), []byte(`{"text":"hi"}`))
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.ErrorIs(t, ts.Reconnect(context.Background()), provider.ErrProviderUnavailable)
}

func TestToolSetRefresh(t *testing.T) {
	sess := &fakeSession{tools: defaultTools()}
	dial, _ := withSessions(sess)
	ts := newTestSet(t, dial)
	reg := tool.NewRegistry()
	_, err := ts.Attach(context.Background(), reg)
	require.NoError(t, err)

	sess.setTools(
		remoteTool{name: "echo", description: "Echo text", schema: textSchema},
		remoteTool{name: "time", description: "Current time"},
	)
	added, removed, err := ts.Refresh(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"time"}, added)
	assert.Equal(t, []string{"fail"}, removed)
	assert.ElementsMatch(t, []string{"echo", "time"}, reg.Snapshot().Names())

	added, removed, err = ts.Refresh(context.Background(), reg)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestServers(t *testing.T) {
	good := &fakeSession{tools: defaultTools()}
	dialGood, _ := withSessions(good)
	dialBad, _ := withSessions()

	servers := NewServers()
	cfg := ConnectionConfig{Transport: "stdio", Command: "fake"}
	require.NoError(t, servers.Add(NewToolSet(cfg, WithName("good"), WithToolPrefix("good"), dialGood)))
	require.NoError(t, servers.Add(NewToolSet(cfg, WithName("bad"), dialBad)))
	assert.Error(t, servers.Add(NewToolSet(cfg, WithName("good"))))
	assert.Equal(t, []string{"bad", "good"}, servers.Names())

	reg := tool.NewRegistry()
	err := servers.AttachAll(context.Background(), reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.ElementsMatch(t, []string{"good_echo", "good_fail"}, reg.Snapshot().Names())

	_, err = servers.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownServer)

	require.NoError(t, servers.Close())
	assert.True(t, good.closed)
	assert.Empty(t, servers.Names())
}

func TestIsConnectionLost(t *testing.T) {
	assert.True(t, isConnectionLost(errors.New("read: connection reset by peer")))
	assert.True(t, isConnectionLost(fmt.Errorf("wrapped: %w", errors.New("EOF"))))
	assert.False(t, isConnectionLost(context.DeadlineExceeded))
	assert.False(t, isConnectionLost(nil))
}

func TestSchemaFromMCP(t *testing.T) {
	raw := mcp.Tool{RawInputSchema: []byte(`{
		"type": "object",
		"properties": {"n": {"type": "integer"}},
		"required": ["n"]
	}`)}
	s := schemaFromMCP(raw)
	require.NotNil(t, s)
	assert.Equal(t, tool.TypeObject, s.Type)
	assert.Equal(t, []string{"n"}, s.Required)
	assert.Equal(t, "integer", s.Properties["n"].Type)
	assert.Equal(t, tool.TypeObject, schemaFromMCP(mcp.Tool{}).Type)
	assert.Equal(t, tool.TypeObject, schemaFromMCP(mcp.Tool{RawInputSchema: []byte(`[1]`)}).Type)
}

func TestSchemaFromMCP_TypeLists(t *testing.T) {
	s := schemaFromMCP(mcp.Tool{RawInputSchema: []byte(`{
		"type": ["object", "null"],
		"properties": {
			"name": {"type": ["null", "string"]},
			"tags": {"type": "array", "items": {"type": ["integer", "null"]}},
			"meta": {"type": "object", "additionalProperties": {"type": ["boolean"]}}
		},
		"required": ["name"]
	}`)})
	require.NotNil(t, s)
	assert.Equal(t, tool.TypeObject, s.Type)
	assert.Equal(t, []string{"name"}, s.Required)
	require.Len(t, s.Properties, 3)
	assert.Equal(t, "string", s.Properties["name"].Type)
	require.NotNil(t, s.Properties["tags"].Items)
	assert.Equal(t, "integer", s.Properties["tags"].Items.Type)

	assert.NoError(t, s.Validate([]byte(`{"name":"x","tags":[1,2]}`)))
	assert.ErrorIs(t, s.Validate([]byte(`{"name":3}`)), tool.ErrSchemaMismatch)
}

func TestToolSet_PromptsAndResources(t *testing.T) {
	sess := &fakeSession{tools: defaultTools()}
	opt, _ := withSessions(sess)
	ts := newTestSet(t, opt)
	ctx := context.Background()

	prompts, err := ts.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "greet", prompts[0].Name)

	res, err := ts.GetPrompt(ctx, "greet", map[string]string{"who": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "greet ada", res.Description)

	resources, err := ts.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "file:///readme", resources[0].URI)

	contents, err := ts.ReadResource(ctx, "file:///readme")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)

	sess.setLost()
	_, err = ts.ListResources(ctx)
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	state, _ := ts.State()
	assert.Equal(t, StateDisconnected, state)
}
