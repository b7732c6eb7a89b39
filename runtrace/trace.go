//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runtrace records what happened during a pipeline or agent run.
//
// A Trace is append-only: one Entry per task, with every retry kept as an
// Attempt of that entry. Once the run terminates the trace is sealed and
// further appends fail with ErrSealed.
package runtrace

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors.
var (
	// ErrSealed is returned when appending to a sealed trace.
	ErrSealed = errors.New("trace is sealed")
	// ErrDuplicateEntry is returned when a task already has an entry.
	ErrDuplicateEntry = errors.New("trace already has an entry for task")
)

// Kind is the kind of run a trace belongs to.
type Kind string

// Run kinds.
const (
	KindPipeline Kind = "pipeline"
	KindAgent    Kind = "agent"
)

// Status is the outcome of a task.
type Status string

// Task outcomes.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Attempt is one try of a task.
type Attempt struct {
	Number int       `json:"number"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Error  string    `json:"error,omitempty"`
}

// Duration of the attempt.
func (a Attempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Entry records a single task of a run.
type Entry struct {
	TaskID   string `json:"task_id"`
	TaskKind string `json:"task_kind"`
	Status   Status `json:"status"`
	// Step is the agent step the task belongs to, 0 for pipeline tasks.
	Step     int            `json:"step,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Attempts []Attempt      `json:"attempts,omitempty"`
}

// Duration of the whole task across attempts.
func (e Entry) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

func (e Entry) clone() Entry {
	c := e
	if e.Inputs != nil {
		c.Inputs = make(map[string]any, len(e.Inputs))
		for k, v := range e.Inputs {
			c.Inputs[k] = v
		}
	}
	if e.Attempts != nil {
		c.Attempts = make([]Attempt, len(e.Attempts))
		copy(c.Attempts, e.Attempts)
	}
	return c
}

// Trace is the record of one run.
type Trace struct {
	mu      sync.RWMutex
	runID   string
	kind    Kind
	inputs  map[string]any
	entries []Entry
	index   map[string]int
	start   time.Time
	end     time.Time
	sealed  bool
}

// New starts a trace for a run with the given initial inputs.
func New(runID string, kind Kind, inputs map[string]any) *Trace {
	cp := make(map[string]any, len(inputs))
	for k, v := range inputs {
		cp[k] = v
	}
	return &Trace{
		runID:  runID,
		kind:   kind,
		inputs: cp,
		index:  make(map[string]int),
		start:  time.Now(),
	}
}

// RunID returns the run identifier.
func (t *Trace) RunID() string { return t.runID }

// Kind returns the run kind.
func (t *Trace) Kind() Kind { return t.kind }

// Inputs returns a copy of the initial inputs.
func (t *Trace) Inputs() map[string]any {
	cp := make(map[string]any, len(t.inputs))
	for k, v := range t.inputs {
		cp[k] = v
	}
	return cp
}

// Append adds the entry of a finished task.
func (t *Trace) Append(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("%w: run %s", ErrSealed, t.runID)
	}
	if _, ok := t.index[e.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.TaskID)
	}
	t.index[e.TaskID] = len(t.entries)
	t.entries = append(t.entries, e.clone())
	return nil
}

// Entries returns a copy of all entries in append order.
func (t *Trace) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.clone()
	}
	return out
}

// Entry returns the entry of a task.
func (t *Trace) Entry(taskID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[taskID]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i].clone(), true
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Seal makes the trace immutable. Sealing twice is a no-op.
func (t *Trace) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.sealed = true
	t.end = time.Now()
}

// Sealed reports whether the trace is sealed.
func (t *Trace) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Duration is the wall time of the run, measured up to now if not sealed.
func (t *Trace) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sealed {
		return t.end.Sub(t.start)
	}
	return time.Since(t.start)
}

// Record is the serializable form of a trace.
type Record struct {
	RunID   string         `json:"run_id"`
	Kind    Kind           `json:"kind"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Entries []Entry        `json:"entries"`
}

// Record returns a serializable copy of the trace.
func (t *Trace) Record() Record {
	entries := t.Entries()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Record{
		RunID:   t.runID,
		Kind:    t.kind,
		Inputs:  t.Inputs(),
		Start:   t.start,
		End:     t.end,
		Entries: entries,
	}
}
