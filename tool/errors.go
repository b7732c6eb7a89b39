//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import "errors"

// Errors.
var (
	// ErrDuplicateTool is returned when a tool name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned when no tool is registered under the requested name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrSchemaMismatch is returned when arguments do not satisfy a tool's input schema.
	ErrSchemaMismatch = errors.New("arguments do not match tool schema")
	// ErrToolFailed wraps errors returned by a tool handler.
	ErrToolFailed = errors.New("tool failed")
	// ErrInvalidTool is returned when registering a tool without a usable declaration.
	ErrInvalidTool = errors.New("invalid tool")
)
