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
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool/function"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type echoInput struct {
	Text string `json:"text"`
}

type lengthOutput struct {
	Length int `json:"length"`
}

func echoTool() tool.CallableTool {
	return function.NewFunctionTool(
		func(_ context.Context, in echoInput) (string, error) { return in.Text, nil },
		function.WithName("echo"),
		function.WithDescription("echoes text"),
		function.WithInputSchema(&tool.Schema{
			Type:       tool.TypeObject,
			Required:   []string{"text"},
			Properties: map[string]*tool.Schema{"text": {Type: tool.TypeString}},
		}),
	)
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	require.NoError(t, reg.Register(function.NewFunctionTool(
		func(_ context.Context, in echoInput) (lengthOutput, error) {
			return lengthOutput{Length: len(in.Text)}, nil
		},
		function.WithName("length"),
	)))
	require.NoError(t, reg.Register(function.NewFunctionTool(
		func(_ context.Context, _ echoInput) (string, error) { return "", errors.New("backend down") },
		function.WithName("fail"),
	)))

	s := New(reg, opts...)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.RegisterPrompt(mcp.Prompt{
		Name:        "greet",
		Description: "greets someone",
		Arguments:   []mcp.PromptArgument{{Name: "who", Required: true}},
	}, func(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
		return TextPrompt("greeting", "Hello, "+args["who"]), nil
	}))
	require.NoError(t, s.RegisterResource(mcp.Resource{URI: "file:///readme", Name: "readme", MimeType: "text/plain"},
		func(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, MIMEType: "text/plain", Text: "read me"}}, nil
		}))
	return s
}

// connect serves s over HTTP and returns an initialized client.
func connect(t *testing.T, s *Server) *mcp.Client {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	c, err := mcp.NewClient(ts.URL+s.Path(), mcp.Implementation{Name: "test", Version: "1"},
		mcp.WithClientGetSSEEnabled(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_, err = c.Initialize(context.Background(), &mcp.InitializeRequest{})
	require.NoError(t, err)
	return c
}

func callTool(t *testing.T, c *mcp.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := &mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	c, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return c.Text
}

func toolNames(tools []mcp.Tool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, WithServerInfo("bench", "1.2.3"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	c, err := mcp.NewClient(ts.URL+s.Path(), mcp.Implementation{Name: "test", Version: "1"},
		mcp.WithClientGetSSEEnabled(false))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Initialize(context.Background(), &mcp.InitializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "bench", res.ServerInfo.Name)
	assert.Equal(t, "1.2.3", res.ServerInfo.Version)
	assert.NotEmpty(t, res.ProtocolVersion)
}

func TestToolsList(t *testing.T) {
	t.Parallel()
	c := connect(t, newTestServer(t))
	res, err := c.ListTools(context.Background(), &mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "length", "fail"}, toolNames(res.Tools))

	echo := res.Tools[0]
	assert.Equal(t, "echoes text", echo.Description)
	require.NotNil(t, echo.InputSchema)
	assert.Equal(t, []string{"text"}, echo.InputSchema.Required)
	assert.Contains(t, echo.InputSchema.Properties, "text")
}

func TestToolsCall(t *testing.T) {
	t.Parallel()
	c := connect(t, newTestServer(t))

	res := callTool(t, c, "echo", map[string]any{"text": "hi"})
	assert.False(t, res.IsError)
	assert.Equal(t, "hi", text(t, res))

	res = callTool(t, c, "length", map[string]any{"text": "four"})
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"length":4}`, text(t, res))
}

func TestToolsCall_Errors(t *testing.T) {
	t.Parallel()
	c := connect(t, newTestServer(t))

	res := callTool(t, c, "echo", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), tool.ErrSchemaMismatch.Error())

	res = callTool(t, c, "fail", map[string]any{"text": "x"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "backend down")

	req := &mcp.CallToolRequest{}
	req.Params.Name = "nope"
	_, err := c.CallTool(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestTools_FollowRegistryChanges(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := connect(t, s)

	require.True(t, s.Tools().Unregister("fail"))
	require.NoError(t, s.Tools().Register(function.NewFunctionTool(
		func(_ context.Context, in echoInput) (string, error) { return "late " + in.Text, nil },
		function.WithName("late"),
	)))

	res, err := c.ListTools(context.Background(), &mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "length", "late"}, toolNames(res.Tools))
	assert.Equal(t, "late x", text(t, callTool(t, c, "late", map[string]any{"text": "x"})))

	req := &mcp.CallToolRequest{}
	req.Params.Name = "fail"
	_, err = c.CallTool(context.Background(), req)
	require.Error(t, err)
}

func TestToolsList_ConsistentWhileRegistering(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := connect(t, s)

	const pairs = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < pairs; i++ {
			// Both tools of a pair are published in one snapshot.
			assert.NoError(t, s.Tools().RegisterAll(
				tool.WithNamePrefix(echoTool(), fmt.Sprintf("a%d", i)),
				tool.WithNamePrefix(echoTool(), fmt.Sprintf("b%d", i)),
			))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < pairs; i++ {
			res, err := c.ListTools(context.Background(), &mcp.ListToolsRequest{})
			if !assert.NoError(t, err) {
				return
			}
			names := toolNames(res.Tools)
			assert.Zero(t, (len(names)-3)%2, "odd tool count %d", len(names))
			for _, tl := range res.Tools {
				if assert.NotNil(t, tl.InputSchema, tl.Name) {
					assert.Equal(t, []string{"text"}, tl.InputSchema.Required, tl.Name)
				}
			}
		}
	}()
	wg.Wait()

	res, err := c.ListTools(context.Background(), &mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, res.Tools, 3+2*pairs)
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	c := connect(t, newTestServer(t))

	list, err := c.ListPrompts(context.Background(), &mcp.ListPromptsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Prompts, 1)
	assert.Equal(t, "greet", list.Prompts[0].Name)

	req := &mcp.GetPromptRequest{}
	req.Params.Name = "greet"
	req.Params.Arguments = map[string]string{"who": "Ada"}
	res, err := c.GetPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	content, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Hello, Ada", content.Text)

	req.Params.Arguments = nil
	_, err = c.GetPrompt(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrMissingArgument.Error())

	req.Params.Name = "missing"
	_, err = c.GetPrompt(context.Background(), req)
	require.Error(t, err)
}

func TestResources(t *testing.T) {
	t.Parallel()
	c := connect(t, newTestServer(t))

	list, err := c.ListResources(context.Background(), &mcp.ListResourcesRequest{})
	require.NoError(t, err)
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "file:///readme", list.Resources[0].URI)

	req := &mcp.ReadResourceRequest{}
	req.Params.URI = "file:///readme"
	res, err := c.ReadResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	content, ok := res.Contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "read me", content.Text)

	req.Params.URI = "file:///other"
	_, err = c.ReadResource(context.Background(), req)
	require.Error(t, err)
}

func TestRegister_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	render := func(context.Context, map[string]string) (*mcp.GetPromptResult, error) { return TextPrompt("", "x"), nil }
	read := func(context.Context, string) ([]mcp.ResourceContents, error) { return nil, nil }

	require.ErrorIs(t, s.RegisterPrompt(mcp.Prompt{Name: "greet"}, render), ErrDuplicatePrompt)
	require.ErrorIs(t, s.RegisterResource(mcp.Resource{URI: "file:///readme"}, read), ErrDuplicateResource)
	require.Error(t, s.RegisterPrompt(mcp.Prompt{}, render))
	require.Error(t, s.RegisterResource(mcp.Resource{URI: "file:///x"}, nil))

	_ = s.Handler()
	require.ErrorIs(t, s.RegisterPrompt(mcp.Prompt{Name: "late"}, render), ErrServing)
	require.ErrorIs(t, s.RegisterResource(mcp.Resource{URI: "file:///late"}, read), ErrServing)
}

func TestHTTP_HealthAndCORS(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, WithAllowedOrigins("http://allowed.example"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	rsp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+s.Path(), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://allowed.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rsp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, "http://allowed.example", rsp.Header.Get("Access-Control-Allow-Origin"))

	// Requests other than initialize need the session issued on initialize.
	rsp, err = http.Post(ts.URL+s.Path(), "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestCallTool_Concurrency(t *testing.T) {
	t.Parallel()
	reg := tool.NewRegistry()
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	release := make(chan struct{})
	require.NoError(t, reg.Register(function.NewFunctionTool(
		func(ctx context.Context, _ echoInput) (string, error) {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
			<-release
			mu.Lock()
			running--
			mu.Unlock()
			return "done", nil
		},
		function.WithName("slow"),
	)))
	s := New(reg, WithConcurrency(2))
	defer s.Close()
	c := connect(t, s)

	var wg sync.WaitGroup
	outs := make([]string, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &mcp.CallToolRequest{}
			req.Params.Name = "slow"
			res, err := c.CallTool(context.Background(), req)
			if assert.NoError(t, err) && assert.Len(t, res.Content, 1) {
				outs[i] = res.Content[0].(mcp.TextContent).Text
			}
		}(i)
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	}, waitFor, tick)
	close(release)
	wg.Wait()
	sort.Strings(outs)
	assert.Equal(t, []string{"done", "done", "done", "done"}, outs)
	assert.Equal(t, 2, peak)
}
