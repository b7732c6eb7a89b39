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
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
)

// ExecutionResult summarizes a finished run.
type ExecutionResult struct {
	RunID  string
	Status RunStatus
	// Outputs holds every resolved output keyed by task id.
	Outputs map[string]any
	// Failed, Skipped and Cancelled list task ids in graph order.
	Failed    []string
	Skipped   []string
	Cancelled []string
	// Errors holds the error of every task that did not succeed.
	Errors map[string]error
	Trace  *runtrace.Trace

	unfinished []string
}

// Succeeded reports whether every task succeeded.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == RunSuccess
}

// Unfinished returns the ids of tasks that did not succeed, in graph order.
func (r *ExecutionResult) Unfinished() []string {
	return append([]string(nil), r.unfinished...)
}

// RetryGraph returns the part of g that did not succeed, seeded with the
// outputs this run resolved.
func (r *ExecutionResult) RetryGraph(g *Graph) (*Graph, error) {
	return g.Subgraph(r.unfinished, r.Outputs)
}

// Result summarizes the outcomes recorded for the tasks of g.
func (c *ExecutionContext) Result(g *Graph) *ExecutionResult {
	res := &ExecutionResult{
		RunID:   c.runID,
		Status:  RunSuccess,
		Outputs: c.Outputs(),
		Errors:  make(map[string]error),
		Trace:   c.trace,
	}
	for _, id := range g.TaskIDs() {
		status := c.Status(id)
		switch status {
		case StatusSucceeded:
			continue
		case StatusFailed:
			res.Failed = append(res.Failed, id)
		case StatusSkipped:
			res.Skipped = append(res.Skipped, id)
		case StatusCancelled, StatusPending:
			res.Cancelled = append(res.Cancelled, id)
		}
		if err := c.Err(id); err != nil {
			res.Errors[id] = err
		}
		res.unfinished = append(res.unfinished, id)
		res.Status = RunPartialFailure
	}
	return res
}
