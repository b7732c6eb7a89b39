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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// TaskKind is the kind of work a task performs.
type TaskKind string

// Task kinds.
const (
	KindModelCall TaskKind = "model_call"
	KindToolCall  TaskKind = "tool_call"
	KindTransform TaskKind = "transform"
)

// Inputs holds the resolved inputs of a task keyed by input key.
type Inputs map[string]any

// String returns the input as a string. Non-string values are formatted with
// fmt.Sprint and missing keys yield "".
func (in Inputs) String(key string) string {
	v, ok := in[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// TaskFunc performs the work of a task.
type TaskFunc func(ctx context.Context, in Inputs) (any, error)

// Task is a unit of work in a pipeline graph.
type Task struct {
	// ID is stable and unique within a graph.
	ID   string
	Kind TaskKind
	// Description is informational.
	Description string
	// Inputs are the declared input keys.
	Inputs []string
	Func   TaskFunc
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
	// Retry overrides the executor default policy when set.
	Retry *RetryPolicy
	// Step is the agent step the task belongs to, 0 for pipeline tasks.
	Step int
}

func (t *Task) clone() *Task {
	c := *t
	c.Inputs = append([]string(nil), t.Inputs...)
	if t.Retry != nil {
		p := *t.Retry
		c.Retry = &p
	}
	return &c
}

func (t *Task) declares(key string) bool {
	for _, k := range t.Inputs {
		if k == key {
			return true
		}
	}
	return false
}

// NewTransformTask creates a pure computation task.
func NewTransformTask(id string, fn TaskFunc, inputs ...string) *Task {
	return &Task{ID: id, Kind: KindTransform, Inputs: inputs, Func: fn}
}

// RequestBuilder builds a provider request from task inputs.
type RequestBuilder func(in Inputs) (*provider.Request, error)

// Prompt builds a single user message request from the inputs.
func Prompt(render func(in Inputs) string) RequestBuilder {
	return func(in Inputs) (*provider.Request, error) {
		return provider.UserPrompt(render(in)), nil
	}
}

// NewModelTask creates a task that calls p. Its output is the response text,
// or the embeddings for embedding requests.
func NewModelTask(id string, p provider.Provider, build RequestBuilder, inputs ...string) *Task {
	return &Task{
		ID:     id,
		Kind:   KindModelCall,
		Inputs: inputs,
		Func: func(ctx context.Context, in Inputs) (any, error) {
			req, err := build(in)
			if err != nil {
				return nil, Permanent(fmt.Errorf("build request: %w", err))
			}
			rsp, err := p.Invoke(ctx, req)
			if err != nil {
				return nil, err
			}
			if req.Kind == provider.KindEmbedding {
				return rsp.Embeddings, nil
			}
			return rsp.Text, nil
		},
	}
}

// ArgsBuilder builds tool arguments from task inputs. The result is JSON encoded.
type ArgsBuilder func(in Inputs) (any, error)

// NewToolTask creates a task that invokes the named tool. With a nil args
// builder the inputs themselves are passed as the argument object.
func NewToolTask(id string, inv tool.Invoker, name string, args ArgsBuilder, inputs ...string) *Task {
	return &Task{
		ID:     id,
		Kind:   KindToolCall,
		Inputs: inputs,
		Func: func(ctx context.Context, in Inputs) (any, error) {
			var v any = map[string]any(in)
			if args != nil {
				var err error
				if v, err = args(in); err != nil {
					return nil, Permanent(fmt.Errorf("build arguments: %w", err))
				}
			}
			bts, err := json.Marshal(v)
			if err != nil {
				return nil, Permanent(fmt.Errorf("encode arguments: %w", err))
			}
			return inv.Invoke(ctx, name, bts)
		},
	}
}

// constantTask replays a value resolved by a previous run.
func constantTask(id string, value any) *Task {
	return &Task{
		ID:          id,
		Kind:        KindTransform,
		Description: "seed",
		Func: func(context.Context, Inputs) (any, error) {
			return value, nil
		},
	}
}
