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
	"sync/atomic"

	"github.com/getkin/kin-openapi/openapi3"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// listCache keeps the converted tool list of the last listed snapshot.
type listCache struct {
	p atomic.Pointer[listedTools]
}

type listedTools struct {
	snap  *tool.Snapshot
	tools []*mcp.Tool
}

// listTools answers tools/list from one registry snapshot, whatever the
// servers have mirrored so far.
func (s *Server) listTools(_ context.Context, _ []*mcp.Tool) []*mcp.Tool {
	snap := s.tools.Snapshot()
	if cached := s.listed.p.Load(); cached != nil && cached.snap == snap {
		return cached.tools
	}
	decls := snap.Declarations()
	out := make([]*mcp.Tool, 0, len(decls))
	for _, d := range decls {
		t, err := toMCPTool(d)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	s.listed.p.Store(&listedTools{snap: snap, tools: out})
	return out
}

// callTool invokes a tool through the current registry snapshot. Unknown
// tools, schema mismatches and handler failures come back as error results.
func (s *Server) callTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.requestTimeout)
		defer cancel()
	}
	if err := s.calls.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("server busy: %w", err)
	}
	defer s.calls.Release(1)

	name := req.Params.Name
	args := []byte("{}")
	if req.Params.Arguments != nil {
		var err error
		if args, err = json.Marshal(req.Params.Arguments); err != nil {
			return mcp.NewErrorResult(fmt.Sprintf("encode arguments: %v", err)), nil
		}
	}
	out, err := s.tools.Snapshot().Invoke(ctx, name, args)
	switch {
	case err == nil:
		return toolResult(out), nil
	case errors.Is(err, tool.ErrUnknownTool), errors.Is(err, tool.ErrSchemaMismatch):
		log.Debugf("mcp: rejected call of %s: %v", name, err)
		return mcp.NewErrorResult(err.Error()), nil
	case errors.Is(err, tool.ErrToolFailed):
		log.Warnf("mcp: tool %s failed: %v", name, err)
		return mcp.NewErrorResult(err.Error()), nil
	default:
		return nil, err
	}
}

// toMCPTool converts a declaration. A missing input schema becomes an
// unconstrained object.
func toMCPTool(d *tool.Declaration) (*mcp.Tool, error) {
	schema := d.InputSchema
	if schema == nil {
		schema = &tool.Schema{Type: tool.TypeObject}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var in openapi3.Schema
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return &mcp.Tool{
		Name:           d.Name,
		Description:    d.Description,
		InputSchema:    &in,
		RawInputSchema: raw,
	}, nil
}

// toolResult renders a tool output as text. Structured outputs are sent as
// their JSON encoding.
func toolResult(out any) *mcp.CallToolResult {
	switch v := out.(type) {
	case nil:
		return &mcp.CallToolResult{Content: []mcp.Content{}}
	case string:
		return mcp.NewTextResult(v)
	case []byte:
		return mcp.NewTextResult(string(v))
	}
	bts, err := json.Marshal(out)
	if err != nil {
		return mcp.NewTextResult(fmt.Sprint(out))
	}
	return mcp.NewTextResult(string(bts))
}
