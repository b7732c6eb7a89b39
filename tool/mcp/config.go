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
	"fmt"
	"net/http"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// transport specifies the transport method: "stdio", "sse", "streamable", "embedded".
type transport string

const (
	transportStdio      transport = "stdio"
	transportSSE        transport = "sse"
	transportStreamable transport = "streamable"
	transportEmbedded   transport = "embedded"
)

// embeddedURL addresses an in-process server. Only its path reaches the handler.
const embeddedURL = "http://embedded"

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-agent-pipeline",
	Version: "0.1.0",
}

// ConnectionConfig defines how to reach an MCP server.
type ConnectionConfig struct {
	// Transport is one of "stdio", "sse", "streamable" and "embedded".
	Transport string `json:"transport" yaml:"transport"`

	// Streamable/SSE configuration.
	ServerURL string            `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// STDIO configuration.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Embedded configuration: the HTTP handler of an in-process server and
	// the path it serves MCP on (default "/mcp").
	Handler http.Handler `json:"-" yaml:"-"`
	Path    string       `json:"path,omitempty" yaml:"path,omitempty"`

	// Timeout bounds each request to the server when the caller sets no deadline.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	ClientInfo mcp.Implementation `json:"client_info,omitempty" yaml:"-"`
}

// Validate checks that the transport is known and its endpoint is set.
// Embedded handlers are bound by the program, so they are checked on connect.
func (c ConnectionConfig) Validate() error {
	t, err := validateTransport(c.Transport)
	if err != nil {
		return err
	}
	switch {
	case t == transportStdio && c.Command == "":
		return fmt.Errorf("stdio transport needs a command")
	case (t == transportSSE || t == transportStreamable) && c.ServerURL == "":
		return fmt.Errorf("%s transport needs a server url", t)
	}
	return nil
}

// Embedded returns a connection to the in-process server served by h at path.
func Embedded(h http.Handler, path string) ConnectionConfig {
	return ConnectionConfig{Transport: string(transportEmbedded), Handler: h, Path: path}
}

// IsEmbedded reports whether c connects to an in-process server.
func (c ConnectionConfig) IsEmbedded() bool {
	return c.Transport == string(transportEmbedded)
}

// toolSetConfig holds internal configuration for ToolSet.
type toolSetConfig struct {
	name       string
	prefix     string
	toolFilter ToolFilter
	mcpOptions []mcp.ClientOption
	dial       dialFunc
}

// ToolSetOption is a function type for configuring ToolSet.
type ToolSetOption func(*toolSetConfig)

// WithName names the tool set. Defaults to "mcp".
func WithName(name string) ToolSetOption {
	return func(c *toolSetConfig) {
		c.name = name
	}
}

// WithToolPrefix exposes every remote tool as "<prefix>_<name>".
func WithToolPrefix(prefix string) ToolSetOption {
	return func(c *toolSetConfig) {
		c.prefix = prefix
	}
}

// WithToolFilter configures tool filtering. Several filters are applied in order.
func WithToolFilter(filter ToolFilter) ToolSetOption {
	return func(c *toolSetConfig) {
		if c.toolFilter == nil {
			c.toolFilter = filter
			return
		}
		c.toolFilter = NewCompositeFilter(c.toolFilter, filter)
	}
}

// WithMCPOptions passes options to the underlying MCP client.
func WithMCPOptions(options ...mcp.ClientOption) ToolSetOption {
	return func(c *toolSetConfig) {
		c.mcpOptions = append(c.mcpOptions, options...)
	}
}

// validateTransport validates the transport string and returns the internal transport type.
func validateTransport(t string) (transport, error) {
	switch t {
	case "stdio":
		return transportStdio, nil
	case "sse":
		return transportSSE, nil
	case "streamable", "streamable_http":
		return transportStreamable, nil
	case "embedded":
		return transportEmbedded, nil
	default:
		return "", fmt.Errorf("unsupported transport: %q, supported: stdio, sse, streamable, embedded", t)
	}
}
