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

	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// mcpTool forwards calls to the remote tool of the same name.
type mcpTool struct {
	set    *ToolSet
	remote remoteTool
}

// Call implements tool.CallableTool.
func (t *mcpTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	return t.set.call(ctx, t.remote.name, jsonArgs)
}

// Declaration implements tool.Tool.
func (t *mcpTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        t.remote.name,
		Description: t.remote.description,
		InputSchema: t.remote.schema,
	}
}
