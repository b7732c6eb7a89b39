//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

// Registry maps tool names to contracts.
//
// Writers copy the current table under a mutex and publish the copy atomically,
// so readers always work against a complete Snapshot and never block.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	watchers  map[uint64]func(*Snapshot)
	nextWatch uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot())
	return r
}

// Register adds a tool. Names are unique: a second registration under the same
// name fails with ErrDuplicateTool and leaves the first one in place.
func (r *Registry) Register(t CallableTool) error {
	return r.RegisterAll(t)
}

// RegisterAll adds several tools at once. Either all of them are published or none.
func (r *Registry) RegisterAll(tools ...CallableTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Snapshot()
	next := cur.clone()
	for _, t := range tools {
		name, err := toolName(t)
		if err != nil {
			return err
		}
		if _, ok := next.tools[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		next.tools[name] = t
		next.order = append(next.order, name)
	}
	r.publish(next)
	return nil
}

// RegisterToolSet registers every tool of the set, prefixing names when prefix is not empty.
// It returns the registered names.
func (r *Registry) RegisterToolSet(ctx context.Context, set ToolSet, prefix string) ([]string, error) {
	tools, err := set.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools of %s: %w", set.Name(), err)
	}
	wrapped := make([]CallableTool, 0, len(tools))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if prefix != "" {
			t = WithNamePrefix(t, prefix)
		}
		wrapped = append(wrapped, t)
		names = append(names, t.Declaration().Name)
	}
	if err := r.RegisterAll(wrapped...); err != nil {
		return nil, err
	}
	log.Debugf("registered %d tools from toolset %s", len(names), set.Name())
	return names, nil
}

// Unregister removes a tool and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Snapshot()
	if _, ok := cur.tools[name]; !ok {
		return false
	}
	next := &Snapshot{tools: make(map[string]CallableTool, len(cur.tools)-1)}
	for _, n := range cur.order {
		if n == name {
			continue
		}
		next.tools[n] = cur.tools[n]
		next.order = append(next.order, n)
	}
	r.publish(next)
	return true
}

// publish stores next and notifies watchers. Callers hold r.mu.
func (r *Registry) publish(next *Snapshot) {
	r.snap.Store(next)
	for _, fn := range r.watchers {
		fn(next)
	}
}

// Watch calls fn with the current snapshot and then with every snapshot
// published after it, in publication order. fn runs while writers are held
// off and must not modify the registry. The returned function stops the watch.
func (r *Registry) Watch(fn func(*Snapshot)) (stop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchers == nil {
		r.watchers = make(map[uint64]func(*Snapshot))
	}
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	fn(r.Snapshot())
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.watchers, id)
	}
}

// Snapshot returns the current immutable view of the registry.
func (r *Registry) Snapshot() *Snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	return emptySnapshot()
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (CallableTool, bool) {
	return r.Snapshot().Lookup(name)
}

// Declarations returns declarations in registration order.
func (r *Registry) Declarations() []*Declaration {
	return r.Snapshot().Declarations()
}

// Invoke validates the arguments and calls the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, jsonArgs []byte) (any, error) {
	return r.Snapshot().Invoke(ctx, name, jsonArgs)
}

// Snapshot is a consistent, read-only view of registered tools.
type Snapshot struct {
	tools map[string]CallableTool
	order []string
}

func emptySnapshot() *Snapshot {
	return &Snapshot{tools: map[string]CallableTool{}}
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		tools: make(map[string]CallableTool, len(s.tools)+1),
		order: make([]string, len(s.order), len(s.order)+1),
	}
	for k, v := range s.tools {
		next.tools[k] = v
	}
	copy(next.order, s.order)
	return next
}

// Len returns the number of tools.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Names returns tool names in registration order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Lookup returns the tool registered under name.
func (s *Snapshot) Lookup(name string) (CallableTool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Declarations returns declarations in registration order.
func (s *Snapshot) Declarations() []*Declaration {
	out := make([]*Declaration, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tools[n].Declaration())
	}
	return out
}

// Invoke looks the tool up, validates the arguments against its input schema and
// calls it. The handler is never reached when validation fails.
func (s *Snapshot) Invoke(ctx context.Context, name string, jsonArgs []byte) (result any, err error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := t.Declaration().InputSchema.Validate(jsonArgs); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	log.Tracef("invoke tool %s with %s", name, jsonArgs)
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("tool %s panicked: %v", name, rec)
			result, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrToolFailed, name, rec)
		}
	}()
	out, err := t.Call(ctx, jsonArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolFailed, name, err)
	}
	return out, nil
}

func toolName(t CallableTool) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	decl := t.Declaration()
	if decl == nil || decl.Name == "" {
		return "", fmt.Errorf("%w: missing name", ErrInvalidTool)
	}
	return decl.Name, nil
}

// WithNamePrefix exposes t under "<prefix>_<name>".
func WithNamePrefix(t CallableTool, prefix string) CallableTool {
	decl := *t.Declaration()
	decl.Name = prefix + "_" + decl.Name
	return &renamedTool{CallableTool: t, decl: &decl}
}

type renamedTool struct {
	CallableTool
	decl *Declaration
}

func (r *renamedTool) Declaration() *Declaration {
	return r.decl
}
