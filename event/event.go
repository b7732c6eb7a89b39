//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the progress events streamed to run subscribers.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

// Event types.
const (
	TypeTaskStarted   Type = "task.started"
	TypeTaskFinished  Type = "task.finished"
	TypeStepCompleted Type = "step.completed"
	TypeRunTerminated Type = "run.terminated"
)

// Event is a progress notification of a run.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// RunID is the run the event belongs to.
	RunID string `json:"runId"`

	// Type is the kind of event.
	Type Type `json:"type"`

	// TaskID is set for task events.
	TaskID string `json:"taskId,omitempty"`

	// Status is the task status for task.finished, or the run status or agent
	// termination reason for run.terminated.
	Status string `json:"status,omitempty"`

	// Step is the agent step, 0 for pipeline runs.
	Step int `json:"step,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// Payload carries a typed, in-memory detail such as the agent action.
	// It is not serialized.
	Payload any `json:"-"`

	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event of the given type for a run.
func New(runID string, typ Type, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsTerminal reports whether no further events follow e for its run.
func (e *Event) IsTerminal() bool {
	return e != nil && e.Type == TypeRunTerminated
}

// Clone returns a shallow copy. Payload is shared.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Handler receives events. Handlers are called from scheduler goroutines and
// must not block for long.
type Handler func(*Event)
