//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner is the caller-facing entry point. It starts pipeline and
// agent runs in the background and hands out handles to cancel them,
// subscribe to their progress events and wait for their outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"trpc.group/trpc-go/trpc-agent-pipeline/agent"
	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

var (
	// ErrUnknownHandle is returned for handles this runner never issued.
	ErrUnknownHandle = errors.New("unknown run handle")
	// ErrClosed is returned by submissions after Close.
	ErrClosed = errors.New("runner is closed")
)

// Handle identifies a submitted run.
type Handle string

// Outcome is the final state of a run.
type Outcome struct {
	Handle Handle
	Kind   runtrace.Kind
	// Status is the pipeline run status or the agent termination reason.
	Status string
	// Pipeline is set for pipeline runs that started.
	Pipeline *graph.ExecutionResult
	// Agent is set for agent runs that started.
	Agent *agent.Result
	// Err is set when the run could not start or the agent failed.
	Err   error
	Trace *runtrace.Trace
}

// Option is a function that configures a Runner.
type Option func(*options)

type options struct {
	config   Config
	handlers []event.Handler
}

// WithConfig sets the run limits.
func WithConfig(c Config) Option {
	return func(o *options) {
		o.config = c
	}
}

// WithEventHandler receives the events of every run.
func WithEventHandler(h event.Handler) Option {
	return func(o *options) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// Runner starts runs and tracks them by handle.
type Runner struct {
	executor *graph.Executor
	config   Config
	handlers []event.Handler
	slots    *semaphore.Weighted

	mu     sync.RWMutex
	runs   map[Handle]*run
	closed bool
	wg     sync.WaitGroup
	// closing releases subscribers that stopped draining.
	closing chan struct{}
}

// New creates a runner executing pipelines with executor.
func New(executor *graph.Executor, opts ...Option) *Runner {
	o := options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if executor == nil {
		executor = graph.NewExecutor()
	}
	r := &Runner{
		executor: executor,
		config:   o.config,
		handlers: o.handlers,
		runs:     make(map[Handle]*run),
		closing:  make(chan struct{}),
	}
	if o.config.MaxConcurrent > 0 {
		r.slots = semaphore.NewWeighted(int64(o.config.MaxConcurrent))
	}
	return r
}

// SubmitPipeline validates g against inputs and starts it. Validation errors
// are returned here and no run is created.
func (r *Runner) SubmitPipeline(ctx context.Context, g *graph.Graph, inputs map[string]any) (Handle, error) {
	if g == nil {
		return "", fmt.Errorf("%w: nil graph", graph.ErrInvalidTask)
	}
	if err := g.ValidateInputs(inputs); err != nil {
		return "", err
	}
	return r.start(ctx, runtrace.KindPipeline, func(ctx context.Context, rn *run) *Outcome {
		res, err := r.executor.Run(ctx, g, inputs,
			graph.WithRunID(string(rn.handle)),
			graph.WithRunEventHandler(rn.publish))
		if err != nil {
			return &Outcome{Status: string(graph.StatusFailed), Err: err}
		}
		return &Outcome{Status: string(res.Status), Pipeline: res, Trace: res.Trace}
	})
}

// SubmitAgent starts an agent run on prompt with the given tools and budget.
func (r *Runner) SubmitAgent(
	ctx context.Context,
	a *agent.Agent,
	prompt string,
	tools agent.Toolbox,
	budget agent.Budget,
) (Handle, error) {
	if a == nil {
		return "", errors.New("runner: nil agent")
	}
	return r.start(ctx, runtrace.KindAgent, func(ctx context.Context, rn *run) *Outcome {
		res, err := a.Run(ctx, prompt, tools, budget,
			agent.WithRunID(string(rn.handle)),
			agent.WithEventHandler(rn.publish))
		if err != nil {
			return &Outcome{Status: string(agent.ReasonFailed), Err: err}
		}
		return &Outcome{Status: string(res.Reason), Agent: res, Err: res.Err, Trace: res.Trace}
	})
}

// start registers a run and executes body in the background. The run keeps
// the values of ctx but not its cancellation: it ends through Cancel, the
// configured timeout or Close.
func (r *Runner) start(ctx context.Context, kind runtrace.Kind, body func(context.Context, *run) *Outcome) (Handle, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := newRun(Handle(uuid.New().String()), kind, cancel, r.handlers)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	r.runs[rn.handle] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	log.Debugf("runner: %s run %s submitted", kind, rn.handle)
	go func() {
		defer r.wg.Done()
		defer cancel()
		rn.finish(r.execute(runCtx, rn, body))
	}()
	return rn.handle, nil
}

func (r *Runner) execute(ctx context.Context, rn *run, body func(context.Context, *run) *Outcome) *Outcome {
	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return &Outcome{Status: string(graph.StatusCancelled), Err: err}
		}
		defer r.slots.Release(1)
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	start := time.Now()
	out := body(ctx, rn)
	log.Debugf("runner: run %s ended in %s: %s", rn.handle, time.Since(start), out.Status)
	return out
}

func (r *Runner) lookup(h Handle) (*run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return rn, nil
}

// Cancel requests cancellation of a run. Cancelling a finished run is a no-op.
func (r *Runner) Cancel(h Handle) error {
	rn, err := r.lookup(h)
	if err != nil {
		return err
	}
	rn.cancel()
	return nil
}

// Subscribe returns the events of a run: those already emitted first, then
// live ones. The channel is closed after the run.terminated event. Subscribers
// must drain the channel until it closes or the runner is closed.
func (r *Runner) Subscribe(h Handle) (<-chan *event.Event, error) {
	rn, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	ch := make(chan *event.Event, r.config.BufferSize)
	go rn.stream(ch, r.closing)
	return ch, nil
}

// Wait blocks until the run ends or ctx is done.
func (r *Runner) Wait(ctx context.Context, h Handle) (*Outcome, error) {
	rn, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	select {
	case <-rn.done:
		return rn.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcome returns the outcome of a finished run without blocking. ok is
// false while the run is still going.
func (r *Runner) Outcome(h Handle) (out *Outcome, ok bool, err error) {
	rn, err := r.lookup(h)
	if err != nil {
		return nil, false, err
	}
	select {
	case <-rn.done:
		return rn.outcome, true, nil
	default:
		return nil, false, nil
	}
}

// Forget drops a finished run. It returns false if the run is still going.
func (r *Runner) Forget(h Handle) (bool, error) {
	rn, err := r.lookup(h)
	if err != nil {
		return false, err
	}
	select {
	case <-rn.done:
	default:
		return false, nil
	}
	r.mu.Lock()
	delete(r.runs, h)
	r.mu.Unlock()
	return true, nil
}

// Close cancels every run, waits for them to end and releases subscribers.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	runs := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		runs = append(runs, rn)
	}
	r.mu.Unlock()

	for _, rn := range runs {
		rn.cancel()
	}
	r.wg.Wait()
	close(r.closing)
	for _, rn := range runs {
		rn.wake()
	}
	return nil
}
