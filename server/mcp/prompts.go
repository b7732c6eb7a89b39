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
	"fmt"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// PromptFunc renders a prompt from its arguments.
type PromptFunc func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// ReadFunc reads the resource at uri.
type ReadFunc func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// RegisterPrompt serves p on both transports. Required arguments are checked
// before render runs.
func (s *Server) RegisterPrompt(p mcp.Prompt, render PromptFunc) error {
	if p.Name == "" || render == nil {
		return fmt.Errorf("prompt needs a name and a render function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving {
		return fmt.Errorf("register prompt %s: %w", p.Name, ErrServing)
	}
	if s.prompts[p.Name] {
		return fmt.Errorf("%w: %s", ErrDuplicatePrompt, p.Name)
	}
	handler := func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = map[string]string{}
		}
		for _, a := range p.Arguments {
			if _, ok := args[a.Name]; a.Required && !ok {
				return nil, fmt.Errorf("%w: prompt %s needs %q", ErrMissingArgument, p.Name, a.Name)
			}
		}
		res, err := render(ctx, args)
		if err != nil {
			return nil, err
		}
		if res.Messages == nil {
			res.Messages = []mcp.PromptMessage{}
		}
		return res, nil
	}
	s.http.RegisterPrompt(&p, handler)
	s.stdio.RegisterPrompt(&p, handler)
	s.prompts[p.Name] = true
	return nil
}

// RegisterResource serves the resource at res.URI on both transports.
func (s *Server) RegisterResource(res mcp.Resource, read ReadFunc) error {
	if res.URI == "" || read == nil {
		return fmt.Errorf("resource needs a uri and a read function")
	}
	if res.Name == "" {
		res.Name = res.URI
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving {
		return fmt.Errorf("register resource %s: %w", res.URI, ErrServing)
	}
	if s.resources[res.URI] {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, res.URI)
	}
	handler := func(ctx context.Context, req *mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		contents, err := read(ctx, req.Params.URI)
		if err != nil {
			return nil, err
		}
		if contents == nil {
			contents = []mcp.ResourceContents{}
		}
		return contents, nil
	}
	s.http.RegisterResources(&res, handler)
	s.stdio.RegisterResources(&res, handler)
	s.resources[res.URI] = true
	return nil
}

// TextPrompt builds a prompt result holding one user message.
func TextPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.NewTextContent(text)},
		},
	}
}
