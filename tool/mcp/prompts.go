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

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// ListPrompts returns the prompts the server offers.
func (ts *ToolSet) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	prompts, err := sess.listPrompts(ctx)
	if err != nil {
		return nil, ts.fail(sess, err)
	}
	return prompts, nil
}

// GetPrompt renders the named prompt with args.
func (ts *ToolSet) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := sess.getPrompt(ctx, name, args)
	if err != nil {
		return nil, ts.fail(sess, err)
	}
	return res, nil
}

// ListResources returns the resources the server offers.
func (ts *ToolSet) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := sess.listResources(ctx)
	if err != nil {
		return nil, ts.fail(sess, err)
	}
	return resources, nil
}

// ReadResource reads the contents behind uri.
func (ts *ToolSet) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := sess.readResource(ctx, uri)
	if err != nil {
		return nil, ts.fail(sess, err)
	}
	return contents, nil
}
