//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides the pipeline graph and its scheduler.
//
// A Graph holds tasks and data dependencies. An edge binds one declared input
// key of a consumer to the output of a producer. The Executor runs a validated
// graph layer by layer with bounded concurrency.
package graph

import (
	"fmt"
	"strings"
	"sync"
)

// Edge is a data dependency: the output of From feeds input Key of To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Key  string `json:"key"`
}

// Graph is an append-only set of tasks and their dependencies.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
	edges []Edge
	// deps maps consumer id to input key to producer id.
	deps map[string]map[string]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		tasks: make(map[string]*Task),
		deps:  make(map[string]map[string]string),
	}
}

// AddTask adds a task whose inputs are bound to producers by dependsOn, which
// maps input keys to producer ids. Producers may be added later. Inputs that
// are not bound here are expected as initial inputs of a run.
func (g *Graph) AddTask(t *Task, dependsOn map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addTaskLocked(t, dependsOn)
}

func (g *Graph) addTaskLocked(t *Task, dependsOn map[string]string) error {
	if t == nil {
		return validationError(ErrInvalidTask, "nil task")
	}
	if t.ID == "" {
		return validationError(ErrInvalidTask, "empty task id")
	}
	if t.Func == nil {
		return validationError(ErrInvalidTask, "task %s has no function", t.ID)
	}
	if _, ok := g.tasks[t.ID]; ok {
		return validationError(ErrDuplicateTask, "%s", t.ID)
	}
	for key, producer := range dependsOn {
		if !t.declares(key) {
			return validationError(ErrInvalidTask, "task %s does not declare input %q", t.ID, key)
		}
		if producer == "" {
			return validationError(ErrInvalidTask, "task %s input %q has an empty producer", t.ID, key)
		}
	}
	task := t.clone()
	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)
	if len(dependsOn) == 0 {
		return nil
	}
	bound := make(map[string]string, len(dependsOn))
	for _, key := range task.Inputs {
		producer, ok := dependsOn[key]
		if !ok {
			continue
		}
		bound[key] = producer
		g.edges = append(g.edges, Edge{From: producer, To: task.ID, Key: key})
	}
	g.deps[task.ID] = bound
	return nil
}

// Chain appends t fed by the most recently added task through input key.
// The key is declared on t when missing. On an empty graph t has no producer.
func (g *Graph) Chain(t *Task, key string) error {
	if t == nil {
		return validationError(ErrInvalidTask, "nil task")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 || key == "" {
		return g.addTaskLocked(t, nil)
	}
	c := t.clone()
	if !c.declares(key) {
		c.Inputs = append(c.Inputs, key)
	}
	return g.addTaskLocked(c, map[string]string{key: g.order[len(g.order)-1]})
}

// Aggregate adds a transform task collecting the outputs of producers. Each
// output is available to fn under its producer id.
func (g *Graph) Aggregate(id string, fn TaskFunc, producers ...string) error {
	deps := make(map[string]string, len(producers))
	for _, p := range producers {
		deps[p] = p
	}
	return g.AddTask(NewTransformTask(id, fn, producers...), deps)
}

// Task returns a copy of the task with the given id.
func (g *Graph) Task(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

func (g *Graph) task(id string) *Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[id]
}

// TaskIDs returns task ids in insertion order.
func (g *Graph) TaskIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// Dependencies returns the input key to producer bindings of a task.
func (g *Graph) Dependencies(id string) map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.deps[id]))
	for k, v := range g.deps[id] {
		out[k] = v
	}
	return out
}

// producersLocked returns the distinct producers of a task in input declaration order.
func (g *Graph) producersLocked(id string) []string {
	t := g.tasks[id]
	bound := g.deps[id]
	if t == nil || len(bound) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(bound))
	var out []string
	for _, key := range t.Inputs {
		p, ok := bound[key]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Validate checks that every edge names an existing producer and that no
// dependency chain revisits a task.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	for _, e := range g.edges {
		if _, ok := g.tasks[e.From]; !ok {
			return validationError(ErrUnresolvedInput,
				"task %s input %q depends on unknown task %s", e.To, e.Key, e.From)
		}
	}
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.order))
	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, p := range g.producersLocked(id) {
			switch color[p] {
			case gray:
				return validationError(ErrCycleDetected, "%s", cyclePath(stack, p))
			case white:
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath renders the part of the DFS stack that closes on id. The stack
// follows consumer to producer links, so it is reversed into data flow order.
func cyclePath(stack []string, id string) string {
	start := 0
	for i, s := range stack {
		if s == id {
			start = i
			break
		}
	}
	loop := stack[start:]
	path := make([]string, 0, len(loop)+1)
	for i := len(loop) - 1; i >= 0; i-- {
		path = append(path, loop[i])
	}
	path = append(path, loop[len(loop)-1])
	return strings.Join(path, " -> ")
}

// ValidateInputs validates the graph and checks that every declared input is
// satisfied exactly once, either by an edge or by an initial input.
//
// An initial input named "<task>.<key>" targets one task. A bare "<key>"
// feeds every task declaring key that has no edge or scoped input for it.
// A scoped initial input for a key that is also bound by an edge is ambiguous.
func (g *Graph) ValidateInputs(initial map[string]any) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.validateLocked(); err != nil {
		return err
	}
	for _, id := range g.order {
		t := g.tasks[id]
		for _, key := range t.Inputs {
			_, bound := g.deps[id][key]
			_, scoped := initial[scopedKey(id, key)]
			_, bare := initial[key]
			switch {
			case bound && scoped:
				return validationError(ErrAmbiguousInput,
					"task %s input %q is bound to %s and given as an initial input",
					id, key, g.deps[id][key])
			case !bound && !scoped && !bare:
				return validationError(ErrUnresolvedInput, "task %s input %q has no source", id, key)
			}
		}
	}
	return nil
}

func scopedKey(taskID, key string) string {
	return taskID + "." + key
}

// TopologicalOrder returns the tasks grouped in layers. Every dependency of a
// task lies in a strictly earlier layer. Ties keep insertion order.
func (g *Graph) TopologicalOrder() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.validateLocked(); err != nil {
		return nil, err
	}
	return g.layersLocked(), nil
}

func (g *Graph) layersLocked() [][]string {
	index := make(map[string]int, len(g.order))
	indegree := make(map[string]int, len(g.order))
	consumers := make(map[string][]string)
	for i, id := range g.order {
		index[id] = i
		producers := g.producersLocked(id)
		indegree[id] = len(producers)
		for _, p := range producers {
			consumers[p] = append(consumers[p], id)
		}
	}
	var current []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}
	var layers [][]string
	for len(current) > 0 {
		layers = append(layers, current)
		var next []string
		for _, id := range current {
			for _, c := range consumers[id] {
				indegree[c]--
				if indegree[c] == 0 {
					next = append(next, c)
				}
			}
		}
		sortByIndex(next, index)
		current = next
	}
	return layers
}

func sortByIndex(ids []string, index map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && index[ids[j-1]] > index[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Subgraph builds a graph of the listed tasks. Producers outside the list are
// replaced by constant tasks of the same id replaying seeds[producer].
func (g *Graph) Subgraph(ids []string, seeds map[string]any) (*Graph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := g.tasks[id]; !ok {
			return nil, validationError(ErrInvalidTask, "unknown task %s", id)
		}
		keep[id] = true
	}
	sub := New()
	for _, id := range g.order {
		if !keep[id] {
			continue
		}
		for _, p := range g.producersLocked(id) {
			if keep[p] || sub.tasks[p] != nil {
				continue
			}
			v, ok := seeds[p]
			if !ok {
				return nil, validationError(ErrUnresolvedInput, "no seed for %s required by %s", p, id)
			}
			if err := sub.addTaskLocked(constantTask(p, v), nil); err != nil {
				return nil, err
			}
		}
		if err := sub.addTaskLocked(g.tasks[id], g.deps[id]); err != nil {
			return nil, fmt.Errorf("copy task %s: %w", id, err)
		}
	}
	return sub, nil
}

// resolveInputs collects the inputs of a task from produced outputs and initial inputs.
func (g *Graph) resolveInputs(t *Task, outputs func(string) (any, bool), initial map[string]any) Inputs {
	g.mu.RLock()
	bound := g.deps[t.ID]
	g.mu.RUnlock()
	in := make(Inputs, len(t.Inputs))
	for _, key := range t.Inputs {
		if p, ok := bound[key]; ok {
			if v, ok := outputs(p); ok {
				in[key] = v
			}
			continue
		}
		if v, ok := initial[scopedKey(t.ID, key)]; ok {
			in[key] = v
			continue
		}
		if v, ok := initial[key]; ok {
			in[key] = v
		}
	}
	return in
}
