//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package mcp exposes a tool registry, prompts and resources over the Model
// Context Protocol, on top of the trpc-mcp-go servers. The tool registry
// stays the source of truth: its snapshots are mirrored into the stdio and
// HTTP servers, tools/list over HTTP answers from the current snapshot and
// every tools/call invokes through it.
package mcp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

const (
	defaultServerName    = "trpc-agent-pipeline"
	defaultServerVersion = "0.1.0"
	defaultConcurrency   = 8
	defaultPath          = "/mcp"
)

// Server serves one tool registry over stdio and HTTP.
//
// Prompts and resources are registered before the server is first served;
// tools may come and go at any time through the registry.
type Server struct {
	tools *tool.Registry
	http  *mcp.Server
	stdio *mcp.StdioServer
	opts  options
	calls *semaphore.Weighted

	stopWatch func()
	listed    listCache

	mu        sync.Mutex
	mirrored  map[string]bool
	prompts   map[string]bool
	resources map[string]bool
	serving   bool
}

// Option is a function that configures a Server.
type Option func(*options)

type options struct {
	name           string
	version        string
	concurrency    int
	requestTimeout time.Duration
	path           string
	allowedOrigins []string
}

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
		if version != "" {
			o.version = version
		}
	}
}

// WithConcurrency bounds the tool calls handled at once across transports.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRequestTimeout bounds each tool call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithPath sets the HTTP path of the MCP endpoint. Defaults to "/mcp".
func WithPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.path = path
		}
	}
}

// WithAllowedOrigins sets the CORS origins of the HTTP transport. Defaults to "*".
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) {
		o.allowedOrigins = origins
	}
}

// New creates a server for tools. A nil registry serves no tools.
func New(tools *tool.Registry, opts ...Option) *Server {
	o := options{
		name:           defaultServerName,
		version:        defaultServerVersion,
		concurrency:    defaultConcurrency,
		path:           defaultPath,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	s := &Server{
		tools:     tools,
		opts:      o,
		calls:     semaphore.NewWeighted(int64(o.concurrency)),
		mirrored:  make(map[string]bool),
		prompts:   make(map[string]bool),
		resources: make(map[string]bool),
	}
	s.http = mcp.NewServer(o.name, o.version,
		mcp.WithServerPath(o.path),
		mcp.WithPostSSEEnabled(false),
		mcp.WithToolListFilter(s.listTools),
		mcp.WithServerLogger(log.Default),
	)
	s.stdio = mcp.NewStdioServer(o.name, o.version, mcp.WithStdioServerLogger(log.Default))
	s.stopWatch = tools.Watch(s.mirror)
	return s
}

// Tools returns the served tool registry.
func (s *Server) Tools() *tool.Registry { return s.tools }

// Path returns the HTTP path of the MCP endpoint.
func (s *Server) Path() string { return s.opts.path }

// Close stops following the registry. Transports already serving keep the
// tools they had.
func (s *Server) Close() error {
	s.stopWatch()
	return nil
}

// markServing freezes prompts and resources: the underlying servers read
// them without locking.
func (s *Server) markServing() {
	s.mu.Lock()
	s.serving = true
	s.mu.Unlock()
}

// mirror applies the difference between snap and the tools the servers know.
// It runs under the registry write lock, once per published snapshot.
func (s *Server) mirror(snap *tool.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gone []string
	for name := range s.mirrored {
		if _, ok := snap.Lookup(name); !ok {
			gone = append(gone, name)
			delete(s.mirrored, name)
		}
	}
	if len(gone) > 0 {
		if err := s.http.UnregisterTools(gone...); err != nil {
			log.Warnf("mcp: unregister %v from http server: %v", gone, err)
		}
		if err := s.stdio.UnregisterTools(gone...); err != nil {
			log.Warnf("mcp: unregister %v from stdio server: %v", gone, err)
		}
	}
	for _, d := range snap.Declarations() {
		if s.mirrored[d.Name] {
			continue
		}
		t, err := toMCPTool(d)
		if err != nil {
			log.Warnf("mcp: tool %s is not served: %v", d.Name, err)
			continue
		}
		s.http.RegisterTool(t, s.callTool)
		s.stdio.RegisterTool(t, s.callTool)
		s.mirrored[d.Name] = true
	}
	log.Debugf("mcp: serving %d tools", len(s.mirrored))
}
