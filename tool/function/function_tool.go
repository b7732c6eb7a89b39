//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function wraps Go functions as tool contracts.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	itool "trpc.group/trpc-go/trpc-agent-pipeline/internal/tool"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// FunctionTool implements the CallableTool interface for executing functions with arguments.
// Input and output schemas are derived from I and O by reflection.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
	unmarshaler  unmarshaler
}

// Option is a function that configures a FunctionTool.
type Option func(*functionToolOptions)

// functionToolOptions holds the configuration options for FunctionTool.
type functionToolOptions struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	unmarshaler  unmarshaler
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(opts *functionToolOptions) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) {
		opts.description = description
	}
}

// WithInputSchema overrides the reflected input schema.
func WithInputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.inputSchema = s
	}
}

// WithOutputSchema overrides the reflected output schema.
func WithOutputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.outputSchema = s
	}
}

// NewFunctionTool creates a FunctionTool around fn.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{
		unmarshaler: &jsonUnmarshaler{},
	}
	for _, opt := range opts {
		opt(options)
	}

	var (
		emptyI I
		emptyO O
	)
	if options.inputSchema == nil {
		options.inputSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyI))
	}
	if options.outputSchema == nil {
		options.outputSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyO))
	}

	return &FunctionTool[I, O]{
		name:         options.name,
		description:  options.description,
		fn:           fn,
		unmarshaler:  options.unmarshaler,
		inputSchema:  options.inputSchema,
		outputSchema: options.outputSchema,
	}
}

// Call unmarshals the arguments into I and calls the wrapped function.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := ft.unmarshaler.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", ft.name, err)
		}
	}
	return ft.fn(ctx, input)
}

// Declaration returns the tool's declaration information.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}

// RawTool is a contract backed by a function on raw JSON arguments.
// It suits tools whose schema is known only at runtime, such as remote ones.
type RawTool struct {
	decl *tool.Declaration
	fn   func(context.Context, []byte) (any, error)
}

// NewRawTool creates a RawTool.
func NewRawTool(decl *tool.Declaration, fn func(context.Context, []byte) (any, error)) *RawTool {
	return &RawTool{decl: decl, fn: fn}
}

// Call forwards the raw arguments.
func (t *RawTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	return t.fn(ctx, jsonArgs)
}

// Declaration returns the tool's declaration information.
func (t *RawTool) Declaration() *tool.Declaration {
	return t.decl
}

type unmarshaler interface {
	Unmarshal([]byte, any) error
}

type jsonUnmarshaler struct{}

// Unmarshal unmarshals JSON data into the provided interface.
func (j *jsonUnmarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
