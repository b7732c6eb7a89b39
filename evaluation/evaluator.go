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
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

const defaultParallelism = 4

// Option configures a BatchEvaluator.
type Option func(*options)

type options struct {
	parallelism int
	name        string
}

// WithParallelism bounds how many input sets run at once. Defaults to 4.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithName names the evaluator in logs and result ids.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// BatchEvaluator feeds input sets through one graph with a shared executor.
type BatchEvaluator struct {
	executor    *graph.Executor
	parallelism int
	name        string
}

// NewBatchEvaluator creates an evaluator running graphs on executor.
func NewBatchEvaluator(executor *graph.Executor, opts ...Option) *BatchEvaluator {
	o := options{parallelism: defaultParallelism, name: "batch-evaluator"}
	for _, opt := range opts {
		opt(&o)
	}
	if executor == nil {
		executor = graph.NewExecutor()
	}
	return &BatchEvaluator{executor: executor, parallelism: o.parallelism, name: o.name}
}

// Name returns the name of the evaluator.
func (e *BatchEvaluator) Name() string {
	return e.name
}

// Evaluate runs every input set through g and grades each executed run with
// scorer, which may be nil. Task failures and rejected input sets count as
// failed runs; the returned error is reserved for a graph that is invalid on
// its own. Cancelling ctx cancels the remaining runs.
func (e *BatchEvaluator) Evaluate(
	ctx context.Context,
	g *graph.Graph,
	inputSets []map[string]any,
	scorer Scorer,
) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", graph.ErrInvalidTask)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s-%s", e.name, uuid.New().String()[:8])
	log.Infof("evaluation %s: %d input sets, parallelism %d", id, len(inputSets), e.parallelism)
	start := time.Now()

	runs := make([]*Run, len(inputSets))
	var eg errgroup.Group
	eg.SetLimit(e.parallelism)
	for i, inputs := range inputSets {
		eg.Go(func() error {
			runs[i] = e.runOne(ctx, g, i, inputs, scorer)
			return nil
		})
	}
	_ = eg.Wait()

	res := &Result{ID: id, Timestamp: time.Now(), Runs: runs}
	res.summarize()
	log.Infof("evaluation %s completed in %s: success rate %.1f%%",
		id, time.Since(start), res.SuccessRate()*100)
	return res, nil
}

func (e *BatchEvaluator) runOne(ctx context.Context, g *graph.Graph, i int, inputs map[string]any, scorer Scorer) *Run {
	run := &Run{Index: i, Inputs: inputs}
	res, err := e.executor.Run(ctx, g, inputs)
	if err != nil {
		log.Debugf("evaluation: input set %d rejected: %v", i, err)
		run.Err = err.Error()
		return run
	}
	run.Result = res
	run.Trace = res.Trace
	run.Success = res.Succeeded()
	run.Latency = res.Trace.Duration()
	if !run.Success {
		for _, id := range res.Unfinished() {
			if err := res.Errors[id]; err != nil {
				run.Err = fmt.Sprintf("%s: %v", id, err)
				break
			}
		}
	}
	if scorer == nil {
		return run
	}
	q, err := scorer.Score(ctx, run)
	if err != nil {
		log.Warnf("evaluation: scoring input set %d: %v", i, err)
		return run
	}
	run.Quality = &q
	return run
}
