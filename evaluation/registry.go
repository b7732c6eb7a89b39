//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package evaluation

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry manages scorers by name.
type Registry struct {
	mu      sync.RWMutex
	scorers map[string]Scorer
}

// NewRegistry creates a registry holding the built-in "success" scorer.
func NewRegistry() *Registry {
	r := &Registry{scorers: make(map[string]Scorer)}
	r.scorers["success"] = SuccessScorer()
	return r
}

// Register adds a scorer under name.
func (r *Registry) Register(name string, s Scorer) error {
	if name == "" {
		return fmt.Errorf("scorer name cannot be empty")
	}
	if s == nil {
		return fmt.Errorf("scorer %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scorers[name]; exists {
		return fmt.Errorf("scorer with name %q already registered", name)
	}
	r.scorers[name] = s
	return nil
}

// Get retrieves a scorer by name.
func (r *Registry) Get(name string) (Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[name]
	if !ok {
		return nil, fmt.Errorf("scorer %q not found", name)
	}
	return s, nil
}

// Names returns the registered scorer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SuccessScorer grades 1 for a fully successful run and 0 otherwise.
func SuccessScorer() Scorer {
	return ScorerFunc(func(_ context.Context, run *Run) (float64, error) {
		if run.Success {
			return 1, nil
		}
		return 0, nil
	})
}

// ExpectedOutputScorer grades 1 when the output of taskID equals the initial
// input named expectedKey and 0 otherwise. Runs without the expected value are
// not graded.
func ExpectedOutputScorer(taskID, expectedKey string) Scorer {
	return ScorerFunc(func(_ context.Context, run *Run) (float64, error) {
		want, ok := run.Inputs[expectedKey]
		if !ok {
			return 0, fmt.Errorf("input set %d has no %q", run.Index, expectedKey)
		}
		if run.Result == nil {
			return 0, nil
		}
		got, ok := run.Result.Outputs[taskID]
		if ok && reflect.DeepEqual(got, want) {
			return 1, nil
		}
		return 0, nil
	})
}
