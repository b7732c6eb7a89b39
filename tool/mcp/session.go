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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// connectionLostPatterns mark errors after which the session is unusable.
// Timeouts and remote tool errors are not among them.
var connectionLostPatterns = []string{
	"session_expired:",
	"transport is closed",
	"client not initialized",
	"not initialized",
	"connection refused",
	"connection reset",
	"EOF",
	"broken pipe",
	"HTTP 404",
	"session not found",
}

func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, p := range connectionLostPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// remoteTool is a tool advertised by the server.
type remoteTool struct {
	name        string
	description string
	schema      *tool.Schema
}

// callResult is the text of a tools/call result.
type callResult struct {
	texts   []string
	isError bool
}

func (r *callResult) text() string {
	return strings.Join(r.texts, "\n")
}

// session is an initialized connection to one MCP server.
type session interface {
	listTools(ctx context.Context) ([]remoteTool, error)
	callTool(ctx context.Context, name string, args map[string]any) (*callResult, error)
	listPrompts(ctx context.Context) ([]mcp.Prompt, error)
	getPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	listResources(ctx context.Context) ([]mcp.Resource, error)
	readResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
	close() error
}

// dialFunc opens and initializes a session.
type dialFunc func(ctx context.Context, cfg ConnectionConfig, opts []mcp.ClientOption) (session, error)

// dialMCP connects through trpc-mcp-go and runs the initialize handshake.
func dialMCP(ctx context.Context, cfg ConnectionConfig, opts []mcp.ClientOption) (session, error) {
	client, err := newClient(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	initCtx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()
	rsp, err := client.Initialize(initCtx, &mcp.InitializeRequest{})
	if err != nil {
		if cerr := client.Close(); cerr != nil {
			log.Warnf("mcp: close client after failed initialize: %v", cerr)
		}
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}
	log.Debugf("mcp: connected to %s %s (protocol %s)",
		rsp.ServerInfo.Name, rsp.ServerInfo.Version, rsp.ProtocolVersion)
	return &clientSession{client: client, timeout: cfg.Timeout}, nil
}

// newClient creates the MCP client for the configured transport.
func newClient(cfg ConnectionConfig, opts []mcp.ClientOption) (mcp.Connector, error) {
	info := cfg.ClientInfo
	if info.Name == "" {
		info = defaultClientInfo
	}
	t, err := validateTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	var options []mcp.ClientOption
	if len(cfg.Headers) > 0 {
		headers := http.Header{}
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	options = append(options, opts...)

	switch t {
	case transportStdio:
		return mcp.NewStdioClient(mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{
				Command: cfg.Command,
				Args:    cfg.Args,
			},
			Timeout: cfg.Timeout,
		}, info)
	case transportSSE:
		return mcp.NewSSEClient(cfg.ServerURL, info, options...)
	case transportEmbedded:
		if cfg.Handler == nil {
			return nil, errors.New("embedded transport has no server bound")
		}
		path := cfg.Path
		if path == "" {
			path = defaultEmbeddedPath
		}
		options = append(options, mcp.WithHTTPReqHandler(inProcess{h: cfg.Handler}), mcp.WithClientGetSSEEnabled(false))
		return mcp.NewClient(embeddedURL+path, info, options...)
	default:
		return mcp.NewClient(cfg.ServerURL, info, options...)
	}
}

// withTimeout applies d when ctx has no deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, d)
		}
	}
	return ctx, func() {}
}

type clientSession struct {
	client  mcp.Connector
	timeout time.Duration
}

func (s *clientSession) listTools(ctx context.Context) ([]remoteTool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	rsp, err := s.client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]remoteTool, 0, len(rsp.Tools))
	for _, t := range rsp.Tools {
		out = append(out, remoteTool{
			name:        t.Name,
			description: t.Description,
			schema:      schemaFromMCP(t),
		})
	}
	return out, nil
}

func (s *clientSession) callTool(ctx context.Context, name string, args map[string]any) (*callResult, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	req := &mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	rsp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &callResult{isError: rsp.IsError}
	for _, c := range rsp.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			res.texts = append(res.texts, v.Text)
		case *mcp.TextContent:
			res.texts = append(res.texts, v.Text)
		default:
			bts, err := json.Marshal(v)
			if err != nil {
				continue
			}
			res.texts = append(res.texts, string(bts))
		}
	}
	return res, nil
}

func (s *clientSession) listPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	rsp, err := s.client.ListPrompts(ctx, &mcp.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return rsp.Prompts, nil
}

func (s *clientSession) getPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	req := &mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	rsp, err := s.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", name, err)
	}
	return rsp, nil
}

func (s *clientSession) listResources(ctx context.Context) ([]mcp.Resource, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	rsp, err := s.client.ListResources(ctx, &mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return rsp.Resources, nil
}

func (s *clientSession) readResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	req := &mcp.ReadResourceRequest{}
	req.Params.URI = uri
	rsp, err := s.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", uri, err)
	}
	return rsp.Contents, nil
}

func (s *clientSession) close() error {
	return s.client.Close()
}

// schemaFromMCP converts the input schema of a remote tool. A type list
// such as ["string","null"] keeps its first non-null member. Anything that
// does not decode to a schema becomes an unconstrained object.
func schemaFromMCP(t mcp.Tool) *tool.Schema {
	fallback := &tool.Schema{Type: tool.TypeObject}
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		if t.InputSchema == nil {
			return fallback
		}
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return fallback
		}
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fallback
	}
	normalizeTypes(generic)
	bts, err := json.Marshal(generic)
	if err != nil {
		return fallback
	}
	var s tool.Schema
	if err := json.Unmarshal(bts, &s); err != nil || (s.Type == "" && s.Properties == nil) {
		return fallback
	}
	return &s
}

// normalizeTypes rewrites type lists into a single type, in place, through
// properties, items and additionalProperties.
func normalizeTypes(schema map[string]any) {
	if types, ok := schema["type"].([]any); ok {
		delete(schema, "type")
		for _, v := range types {
			if name, ok := v.(string); ok && name != tool.TypeNull {
				schema["type"] = name
				break
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if sub, ok := p.(map[string]any); ok {
				normalizeTypes(sub)
			}
		}
	}
	for _, key := range []string{"items", "additionalProperties"} {
		if sub, ok := schema[key].(map[string]any); ok {
			normalizeTypes(sub)
		}
	}
}
