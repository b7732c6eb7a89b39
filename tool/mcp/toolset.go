//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package mcp wraps the tools of a remote MCP server as local tool contracts.
//
// A ToolSet owns one session. When the connection is lost the session is
// marked disconnected and every call fails with provider.ErrProviderUnavailable
// until Reconnect succeeds; calls never reconnect on their own.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// State is the connection state of a ToolSet.
type State string

// Connection states.
const (
	StateIdle         State = "idle"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

var errClosed = errors.New("tool set is closed")

// ToolSet exposes the tools of one MCP server.
type ToolSet struct {
	cfg    ConnectionConfig
	config toolSetConfig

	mu      sync.RWMutex
	sess    session
	state   State
	lastErr error
	// attached tracks, per registry, the tool names this set registered.
	attached map[*tool.Registry]map[string]bool

	reconnectGroup singleflight.Group
}

// NewToolSet creates a tool set for the server described by cfg. It does not
// connect until tools are first listed.
func NewToolSet(cfg ConnectionConfig, opts ...ToolSetOption) *ToolSet {
	c := toolSetConfig{name: "mcp", dial: dialMCP}
	for _, opt := range opts {
		opt(&c)
	}
	if cfg.ClientInfo.Name == "" {
		cfg.ClientInfo = defaultClientInfo
	}
	return &ToolSet{
		cfg:      cfg,
		config:   c,
		state:    StateIdle,
		attached: make(map[*tool.Registry]map[string]bool),
	}
}

// Name implements tool.ToolSet.
func (ts *ToolSet) Name() string { return ts.config.name }

// State returns the connection state and, when disconnected, the error that caused it.
func (ts *ToolSet) State() (State, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.state, ts.lastErr
}

// Tools implements tool.ToolSet. It lists the remote tools, applies the
// filters and the name prefix, and connects first when the set is idle.
func (ts *ToolSet) Tools(ctx context.Context) ([]tool.CallableTool, error) {
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := sess.listTools(ctx)
	if err != nil {
		return nil, ts.fail(sess, err)
	}
	remote = ts.filter(ctx, remote)
	out := make([]tool.CallableTool, 0, len(remote))
	for _, r := range remote {
		var t tool.CallableTool = &mcpTool{set: ts, remote: r}
		if ts.config.prefix != "" {
			t = tool.WithNamePrefix(t, ts.config.prefix)
		}
		out = append(out, t)
	}
	log.Debugf("mcp: %s lists %d tools", ts.Name(), len(out))
	return out, nil
}

func (ts *ToolSet) filter(ctx context.Context, remote []remoteTool) []remoteTool {
	if ts.config.toolFilter == nil {
		return remote
	}
	infos := make([]ToolInfo, len(remote))
	for i, r := range remote {
		infos[i] = ToolInfo{Name: r.name, Description: r.description}
	}
	kept := make(map[string]bool)
	for _, info := range ts.config.toolFilter.Filter(ctx, infos) {
		kept[info.Name] = true
	}
	out := remote[:0:0]
	for _, r := range remote {
		if kept[r.name] {
			out = append(out, r)
		}
	}
	return out
}

// session returns the live session, connecting when the set is idle.
func (ts *ToolSet) session(ctx context.Context) (session, error) {
	ts.mu.RLock()
	sess, state, lastErr := ts.sess, ts.state, ts.lastErr
	ts.mu.RUnlock()
	switch state {
	case StateConnected:
		return sess, nil
	case StateIdle:
		if err := ts.Reconnect(ctx); err != nil {
			return nil, err
		}
		return ts.session(ctx)
	case StateClosed:
		return nil, ts.unavailable(errClosed)
	default:
		return nil, ts.unavailable(fmt.Errorf("disconnected: %w", lastErr))
	}
}

// Reconnect replaces the session with a new one. Concurrent calls share one attempt.
func (ts *ToolSet) Reconnect(ctx context.Context) error {
	_, err, _ := ts.reconnectGroup.Do("reconnect", func() (any, error) {
		ts.mu.RLock()
		closed := ts.state == StateClosed
		ts.mu.RUnlock()
		if closed {
			return nil, ts.unavailable(errClosed)
		}

		sess, err := ts.config.dial(ctx, ts.cfg, ts.config.mcpOptions)
		if err != nil {
			log.Warnf("mcp: connect %s: %v", ts.Name(), err)
			return nil, ts.unavailable(err)
		}

		ts.mu.Lock()
		if ts.state == StateClosed {
			ts.mu.Unlock()
			closeSession(ts.Name(), sess)
			return nil, ts.unavailable(errClosed)
		}
		old := ts.sess
		ts.sess, ts.state, ts.lastErr = sess, StateConnected, nil
		ts.mu.Unlock()
		if old != nil {
			closeSession(ts.Name(), old)
		}
		log.Infof("mcp: %s connected", ts.Name())
		return nil, nil
	})
	return err
}

// fail classifies an error from sess. Connection failures mark the set
// disconnected and surface as provider.ErrProviderUnavailable.
func (ts *ToolSet) fail(sess session, err error) error {
	if !isConnectionLost(err) {
		return err
	}
	ts.mu.Lock()
	if ts.sess == sess && ts.state == StateConnected {
		ts.state, ts.lastErr = StateDisconnected, err
		log.Warnf("mcp: %s lost its connection: %v", ts.Name(), err)
	}
	ts.mu.Unlock()
	return ts.unavailable(err)
}

func (ts *ToolSet) unavailable(err error) error {
	return &provider.Error{Provider: "mcp:" + ts.Name(), Kind: provider.ErrProviderUnavailable, Err: err}
}

// call forwards tools/call. Remote tool errors are returned as errors.
func (ts *ToolSet) call(ctx context.Context, name string, jsonArgs []byte) (any, error) {
	args := map[string]any{}
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", tool.ErrSchemaMismatch, err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	sess, err := ts.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := sess.callTool(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ts.fail(sess, fmt.Errorf("call %s: %w", name, err))
	}
	if res.isError {
		return nil, fmt.Errorf("remote tool %s: %s", name, res.text())
	}
	return res.text(), nil
}

// Attach registers the tools of the set in reg and returns their names.
func (ts *ToolSet) Attach(ctx context.Context, reg *tool.Registry) ([]string, error) {
	tools, err := ts.Tools(ctx)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterAll(tools...); err != nil {
		return nil, fmt.Errorf("attach %s: %w", ts.Name(), err)
	}
	names := make(map[string]bool, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		n := t.Declaration().Name
		names[n] = true
		out = append(out, n)
	}
	ts.mu.Lock()
	ts.attached[reg] = names
	ts.mu.Unlock()
	return out, nil
}

// Refresh lists the remote tools again and applies the difference to reg:
// vanished tools are unregistered and new ones registered.
func (ts *ToolSet) Refresh(ctx context.Context, reg *tool.Registry) (added, removed []string, err error) {
	tools, err := ts.Tools(ctx)
	if err != nil {
		return nil, nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	prev := ts.attached[reg]
	next := make(map[string]bool, len(tools))
	var fresh []tool.CallableTool
	for _, t := range tools {
		n := t.Declaration().Name
		next[n] = true
		if !prev[n] {
			fresh = append(fresh, t)
			added = append(added, n)
		}
	}
	for n := range prev {
		if !next[n] {
			reg.Unregister(n)
			removed = append(removed, n)
		}
	}
	if err := reg.RegisterAll(fresh...); err != nil {
		for _, n := range added {
			delete(next, n)
		}
		ts.attached[reg] = next
		return nil, removed, fmt.Errorf("refresh %s: %w", ts.Name(), err)
	}
	ts.attached[reg] = next
	if len(added)+len(removed) > 0 {
		log.Infof("mcp: %s refreshed: %d added, %d removed", ts.Name(), len(added), len(removed))
	}
	return added, removed, nil
}

// Close implements tool.ToolSet. Later calls fail with provider.ErrProviderUnavailable.
func (ts *ToolSet) Close() error {
	ts.mu.Lock()
	sess := ts.sess
	ts.sess, ts.state = nil, StateClosed
	ts.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.close(); err != nil {
		return fmt.Errorf("close mcp session %s: %w", ts.Name(), err)
	}
	return nil
}

func closeSession(name string, s session) {
	if err := s.close(); err != nil {
		log.Warnf("mcp: close session of %s: %v", name, err)
	}
}
