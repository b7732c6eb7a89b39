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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-openapi/jsonpointer"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// Reference keys inside plan step inputs. An object {"$var":"name"} is
// replaced by the value saved as name, and "$ptr" selects a part of it with
// a JSON pointer.
const (
	refVar     = "$var"
	refPointer = "$ptr"
)

// OnError decides what a failed plan step does to the rest of the plan.
type OnError string

// Step failure policies.
const (
	// OnErrorFail fails the step so that steps reading its value are skipped.
	OnErrorFail OnError = "Fail"
	// OnErrorContinue saves null for the step and lets the plan go on.
	OnErrorContinue OnError = "Continue"
)

// Plan is a declarative tool pipeline.
type Plan struct {
	ID    string     `json:"id,omitempty"`
	Steps []PlanStep `json:"steps"`
}

// PlanStep calls one tool. Input is the argument object and may hold
// references to values saved by earlier steps.
type PlanStep struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	SaveAs    string          `json:"saveAs,omitempty"`
	OnError   OnError         `json:"onError,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

// ParsePlan decodes a plan. Steps default to OnErrorFail.
func ParsePlan(data []byte) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, validationError(ErrInvalidPlan, "decode: %v", err)
	}
	for i := range p.Steps {
		if p.Steps[i].OnError == "" {
			p.Steps[i].OnError = OnErrorFail
		}
	}
	return &p, nil
}

// PlanFromJSON parses a plan, validates it against the tools of snap and
// lowers it to a graph whose tasks invoke those tools.
func PlanFromJSON(data []byte, snap *tool.Snapshot) (*Graph, error) {
	p, err := ParsePlan(data)
	if err != nil {
		return nil, err
	}
	return p.Graph(snap)
}

// Validate checks that the plan has steps, that saved names are unique, that
// every tool is in snap and that every reference names a value saved by an
// earlier step.
func (p *Plan) Validate(snap *tool.Snapshot) error {
	if len(p.Steps) == 0 {
		return validationError(ErrInvalidPlan, "plan %q has no steps", p.ID)
	}
	var missing []string
	saved := make(map[string]int)
	for i, step := range p.Steps {
		if step.Tool == "" {
			return validationError(ErrInvalidPlan, "step %d has no tool", i+1)
		}
		if _, ok := snap.Lookup(step.Tool); !ok {
			missing = append(missing, step.Tool)
		}
		if step.OnError != OnErrorFail && step.OnError != OnErrorContinue {
			return validationError(ErrInvalidPlan, "step %d: unknown onError %q", i+1, step.OnError)
		}
		if step.TimeoutMs < 0 {
			return validationError(ErrInvalidPlan, "step %d: negative timeout", i+1)
		}
		input, err := step.decodeInput()
		if err != nil {
			return validationError(ErrInvalidPlan, "step %d: %v", i+1, err)
		}
		for _, name := range referencedVars(input) {
			if _, ok := saved[name]; !ok {
				return validationError(ErrUnresolvedInput, "step %d reads $var %q before it is saved", i+1, name)
			}
		}
		if step.SaveAs == "" {
			continue
		}
		if prev, ok := saved[step.SaveAs]; ok {
			return validationError(ErrInvalidPlan, "steps %d and %d both save %q", prev+1, i+1, step.SaveAs)
		}
		saved[step.SaveAs] = i
	}
	if len(missing) > 0 {
		return validationError(ErrInvalidPlan, "unknown tools %v, valid tools %v", missing, snap.Names())
	}
	return nil
}

// Graph validates the plan and lowers it to a graph. Each step becomes a tool
// task whose inputs are the values it references, bound to the steps that
// save them. Steps without references between them run concurrently.
func (p *Plan) Graph(snap *tool.Snapshot) (*Graph, error) {
	if err := p.Validate(snap); err != nil {
		return nil, err
	}
	g := New()
	producers := make(map[string]string)
	for i, step := range p.Steps {
		input, _ := step.decodeInput()
		vars := referencedVars(input)
		deps := make(map[string]string, len(vars))
		for _, name := range vars {
			deps[name] = producers[name]
		}
		id := fmt.Sprintf("%s#%d", step.Tool, i+1)
		t := NewToolTask(id, snap, step.Tool, func(in Inputs) (any, error) {
			return resolveRefs(input, in, nil)
		}, vars...)
		t.Description = "plan " + p.ID
		if step.TimeoutMs > 0 {
			t.Timeout = time.Duration(step.TimeoutMs) * time.Millisecond
		}
		if step.OnError == OnErrorContinue {
			t.Func = continueOnError(id, t.Func)
		}
		if err := g.AddTask(t, deps); err != nil {
			return nil, err
		}
		if step.SaveAs != "" {
			producers[step.SaveAs] = id
		}
	}
	return g, nil
}

func (s PlanStep) decodeInput() (any, error) {
	if len(bytes.TrimSpace(s.Input)) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(s.Input, &v); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("input must be an object")
	}
	return v, nil
}

func continueOnError(id string, fn TaskFunc) TaskFunc {
	return func(ctx context.Context, in Inputs) (any, error) {
		out, err := fn(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warnf("plan step %s failed, continuing: %v", id, err)
			return nil, nil
		}
		return out, nil
	}
}

// referencedVars returns the sorted names referenced anywhere in v.
func referencedVars(v any) []string {
	seen := make(map[string]bool)
	var walk func(any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			if name, ok := x[refVar].(string); ok {
				seen[name] = true
				return
			}
			for _, e := range x {
				walk(e)
			}
		case []any:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(v)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// resolveRefs returns a copy of v with every reference replaced. Saved values
// may hold references themselves; a reference that leads back to itself is
// an error.
func resolveRefs(v any, vars Inputs, stack map[string]bool) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if name, ok := x[refVar].(string); ok {
			return resolveVar(name, x[refPointer], vars, stack)
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := resolveRefs(e, vars, stack)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := resolveRefs(e, vars, stack)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveVar(name string, ptr any, vars Inputs, stack map[string]bool) (any, error) {
	target, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown $var %q", name)
	}
	if stack[name] {
		return nil, fmt.Errorf("cyclic $var %q", name)
	}
	next := make(map[string]bool, len(stack)+1)
	for k := range stack {
		next[k] = true
	}
	next[name] = true

	value, err := generic(target)
	if err != nil {
		return nil, fmt.Errorf("$var %q: %w", name, err)
	}
	if p, ok := ptr.(string); ok && p != "" {
		if value == nil {
			return nil, fmt.Errorf("$var %q is null, nothing at %s", name, p)
		}
		pointer, err := jsonpointer.New(p)
		if err != nil {
			return nil, fmt.Errorf("$var %q: %w", name, err)
		}
		if value, _, err = pointer.Get(value); err != nil {
			return nil, fmt.Errorf("$var %q at %s: %w", name, p, err)
		}
	}
	return resolveRefs(value, vars, next)
}

// generic converts a task output to plain JSON values. Strings holding a JSON
// object or array are decoded so pointers can reach into tool results.
func generic(v any) (any, error) {
	if s, ok := v.(string); ok {
		trimmed := bytes.TrimSpace([]byte(s))
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var out any
			if json.Unmarshal(trimmed, &out) == nil {
				return out, nil
			}
		}
		return s, nil
	}
	bts, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(bts, &out); err != nil {
		return nil, err
	}
	return out, nil
}
