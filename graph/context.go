//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// Task statuses. A task without an outcome is pending.
const (
	StatusPending   runtrace.Status = "pending"
	StatusSucceeded                 = runtrace.StatusSucceeded
	StatusFailed                    = runtrace.StatusFailed
	StatusSkipped                   = runtrace.StatusSkipped
	StatusCancelled                 = runtrace.StatusCancelled
)

// ExecutionContext is the state of one run: outputs keyed by task id,
// per-task status and error, and the trace being built. Outputs are written
// once. A context belongs to a single run.
type ExecutionContext struct {
	runID   string
	kind    runtrace.Kind
	initial map[string]any
	trace   *runtrace.Trace

	mu       sync.RWMutex
	outputs  map[string]any
	statuses map[string]runtrace.Status
	errs     map[string]error
	handlers []event.Handler

	poolMu sync.Mutex
	pool   *ants.Pool
}

// NewExecutionContext creates the context of a run.
func NewExecutionContext(runID string, kind runtrace.Kind, initial map[string]any) *ExecutionContext {
	cp := make(map[string]any, len(initial))
	for k, v := range initial {
		cp[k] = v
	}
	return &ExecutionContext{
		runID:    runID,
		kind:     kind,
		initial:  cp,
		trace:    runtrace.New(runID, kind, cp),
		outputs:  make(map[string]any),
		statuses: make(map[string]runtrace.Status),
		errs:     make(map[string]error),
	}
}

// workers returns the worker pool of the run. It is created with size n on
// first use and shared by every Continue until the run is sealed.
func (c *ExecutionContext) workers(n int) (*ants.Pool, error) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	if c.pool != nil && !c.pool.IsClosed() {
		return c.pool, nil
	}
	p, err := ants.NewPool(n)
	if err != nil {
		return nil, err
	}
	c.pool = p
	return p, nil
}

func (c *ExecutionContext) releaseWorkers() {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	if c.pool != nil {
		c.pool.Release()
		c.pool = nil
	}
}

// RunID returns the run identifier.
func (c *ExecutionContext) RunID() string { return c.runID }

// Kind returns the run kind.
func (c *ExecutionContext) Kind() runtrace.Kind { return c.kind }

// Trace returns the trace of the run.
func (c *ExecutionContext) Trace() *runtrace.Trace { return c.trace }

// OnEvent registers a handler for the events of this run.
func (c *ExecutionContext) OnEvent(h event.Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *ExecutionContext) eventHandlers() []event.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]event.Handler(nil), c.handlers...)
}

// Output returns the output of a succeeded task.
func (c *ExecutionContext) Output(id string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[id]
	return v, ok
}

// Outputs returns a copy of every resolved output.
func (c *ExecutionContext) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// Status returns the status of a task, StatusPending when it has no outcome yet.
func (c *ExecutionContext) Status(id string) runtrace.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.statuses[id]; ok {
		return s
	}
	return StatusPending
}

// Err returns the error recorded for a task.
func (c *ExecutionContext) Err(id string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errs[id]
}

func (c *ExecutionContext) done(id string) bool {
	return c.Status(id) != StatusPending
}

// record stores the outcome of a task. Each task has at most one outcome.
func (c *ExecutionContext) record(id string, status runtrace.Status, out any, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statuses[id]; ok {
		return fmt.Errorf("%w: %s", ErrOutputWritten, id)
	}
	c.statuses[id] = status
	if status == StatusSucceeded {
		c.outputs[id] = out
	}
	if err != nil {
		c.errs[id] = err
	}
	return nil
}
