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
	"errors"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// ErrUnknownServer is returned when no tool set has the requested name.
var ErrUnknownServer = errors.New("unknown mcp server")

// Servers holds the tool sets of several MCP servers by name.
type Servers struct {
	mu   sync.RWMutex
	sets map[string]*ToolSet
}

// NewServers creates an empty set of servers.
func NewServers() *Servers {
	return &Servers{sets: make(map[string]*ToolSet)}
}

// Add registers a tool set under its name.
func (s *Servers) Add(ts *ToolSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[ts.Name()]; ok {
		return fmt.Errorf("mcp server %s already added", ts.Name())
	}
	s.sets[ts.Name()] = ts
	return nil
}

// Get returns the tool set of a server.
func (s *Servers) Get(name string) (*ToolSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return ts, nil
}

// Names returns the server names in sorted order.
func (s *Servers) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sets))
	for n := range s.sets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AttachAll attaches every server to reg. A server that cannot be reached is
// logged and skipped so the others stay usable; its error is part of the
// joined error returned.
func (s *Servers) AttachAll(ctx context.Context, reg *tool.Registry) error {
	var errs []error
	for _, name := range s.Names() {
		ts, err := s.Get(name)
		if err != nil {
			continue
		}
		names, err := ts.Attach(ctx, reg)
		if err != nil {
			log.Warnf("mcp: attach %s: %v", name, err)
			errs = append(errs, err)
			continue
		}
		log.Infof("mcp: attached %d tools from %s", len(names), name)
	}
	return errors.Join(errs...)
}

// Close closes every tool set.
func (s *Servers) Close() error {
	s.mu.Lock()
	sets := s.sets
	s.sets = make(map[string]*ToolSet)
	s.mu.Unlock()
	var errs []error
	for _, ts := range sets {
		if err := ts.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
