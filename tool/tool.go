//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool defines tool contracts, argument schemas and the tool registry.
package tool

import (
	"context"
)

// Tool is anything that can describe itself with a Declaration.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool defines the interface for tools that support calling operations.
type CallableTool interface {
	// Call calls the tool with the provided context and JSON encoded arguments.
	// Returns the result of execution or an error if the operation fails.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// Invoker invokes a tool by name. The Registry and its snapshots implement it.
type Invoker interface {
	Invoke(ctx context.Context, name string, jsonArgs []byte) (any, error)
}

// Declaration describes the metadata of a tool, such as its name, description, and expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool
	Name string `json:"name"`

	// Description explains the tool's purpose and functionality
	Description string `json:"description"`

	// InputSchema defines the expected input for the tool in JSON schema format.
	InputSchema *Schema `json:"inputSchema"`

	// OutputSchema defines the expected output for the tool in JSON schema format.
	OutputSchema *Schema `json:"outputSchema,omitempty"`
}

// Schema represents the structure of JSON Schema used for defining arguments and responses.
// Type may hold several comma separated types, e.g. "string,null".
type Schema struct {
	//  Type Specifies the data type (e.g., "object", "array", "string", "number")
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema
	Properties map[string]*Schema `json:"properties,omitempty"`
	// For array types, defines the schema of items in the array
	Items *Schema `json:"items,omitempty"`
	// Enum restricts the value to one of the listed constants.
	Enum []any `json:"enum,omitempty"`
	// AdditionalProperties is false, true, a *Schema, or its decoded JSON form.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}
