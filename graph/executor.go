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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-pipeline/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/trace"
)

// DefaultConcurrency is the default number of tasks running at once.
const DefaultConcurrency = 4

// Executor runs pipeline graphs. An Executor holds no per-run state and may
// run several graphs concurrently.
type Executor struct {
	concurrency int
	timeout     time.Duration
	retry       RetryPolicy
	handlers    []event.Handler
	sinks       []runtrace.Sink
}

// Option is a function that configures an Executor.
type Option func(*options)

type options struct {
	concurrency int
	timeout     time.Duration
	retry       RetryPolicy
	handlers    []event.Handler
	sinks       []runtrace.Sink
}

// WithConcurrency bounds the number of tasks running at once (default 4).
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDefaultTimeout sets the timeout of tasks that do not set their own.
// Zero disables it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithDefaultRetryPolicy sets the policy of tasks that do not set their own.
func WithDefaultRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithEventSink receives the events of every run.
func WithEventSink(h event.Handler) Option {
	return func(o *options) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// WithTraceSink receives every sealed trace.
func WithTraceSink(s runtrace.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...Option) *Executor {
	o := options{
		concurrency: DefaultConcurrency,
		retry:       DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor{
		concurrency: o.concurrency,
		timeout:     o.timeout,
		retry:       o.retry,
		handlers:    o.handlers,
		sinks:       o.sinks,
	}
}

// Concurrency returns the concurrency limit.
func (e *Executor) Concurrency() int { return e.concurrency }

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID    string
	handlers []event.Handler
}

// WithRunID sets the run id instead of a generated one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// WithRunEventHandler receives the events of this run only.
func WithRunEventHandler(h event.Handler) RunOption {
	return func(o *runOptions) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// Run validates g against the initial inputs and executes it. Validation
// failures are returned before any task runs. Task failures are not errors:
// they are reported in the result.
func (e *Executor) Run(ctx context.Context, g *Graph, initial map[string]any, opts ...RunOption) (*ExecutionResult, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	if err := g.ValidateInputs(initial); err != nil {
		return nil, err
	}

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameExecuteGraph)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyRunID, o.runID),
		attribute.String(itelemetry.KeyRunKind, string(runtrace.KindPipeline)),
		attribute.Int("trpc.go.agent.task_count", g.Len()),
	)

	execCtx := NewExecutionContext(o.runID, runtrace.KindPipeline, initial)
	for _, h := range o.handlers {
		execCtx.OnEvent(h)
	}
	if err := e.Continue(ctx, g, execCtx); err != nil {
		return nil, err
	}
	e.Seal(ctx, execCtx)
	res := execCtx.Result(g)
	span.SetAttributes(attribute.String("trpc.go.agent.run_status", string(res.Status)))
	if !res.Succeeded() {
		span.SetStatus(codes.Error, string(res.Status))
	}
	log.Debugf("run %s finished: %s (failed=%d skipped=%d cancelled=%d)",
		o.runID, res.Status, len(res.Failed), len(res.Skipped), len(res.Cancelled))
	e.Emit(execCtx, event.New(o.runID, event.TypeRunTerminated, event.WithStatus(string(res.Status))))
	return res, nil
}

// Continue executes the tasks of g that have no outcome in execCtx yet. It is
// used to extend a run after tasks were appended to its graph.
func (e *Executor) Continue(ctx context.Context, g *Graph, execCtx *ExecutionContext) error {
	layers, err := e.plan(g, execCtx)
	if err != nil {
		return err
	}
	pool, err := execCtx.workers(e.concurrency)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPoolUnavailable, err)
	}

	for _, layer := range layers {
		var wg sync.WaitGroup
		for _, id := range layer {
			if execCtx.done(id) {
				continue
			}
			t := g.task(id)
			if status, cause := blocked(g, execCtx, id); cause != nil {
				e.settle(ctx, execCtx, t, status, cause)
				continue
			}
			if err := ctx.Err(); err != nil {
				e.settle(ctx, execCtx, t, StatusCancelled, err)
				continue
			}
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				e.runTask(ctx, g, execCtx, t)
			}); err != nil {
				wg.Done()
				e.settle(ctx, execCtx, t, StatusFailed, fmt.Errorf("%w: %w", ErrPoolUnavailable, err))
			}
		}
		wg.Wait()
	}
	return nil
}

func (e *Executor) plan(g *Graph, execCtx *ExecutionContext) ([][]string, error) {
	if err := g.ValidateInputs(execCtx.initial); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.layersLocked(), nil
}

// blocked reports why a task cannot run: a producer that did not succeed.
func blocked(g *Graph, execCtx *ExecutionContext, id string) (runtrace.Status, error) {
	g.mu.RLock()
	producers := g.producersLocked(id)
	g.mu.RUnlock()
	for _, p := range producers {
		switch s := execCtx.Status(p); s {
		case StatusSucceeded:
			continue
		case StatusCancelled:
			return StatusCancelled, fmt.Errorf("%w: %s is %s", ErrDependency, p, s)
		default:
			return StatusSkipped, fmt.Errorf("%w: %s is %s", ErrDependency, p, s)
		}
	}
	return "", nil
}

// Emit delivers ev to the executor and run handlers.
func (e *Executor) Emit(execCtx *ExecutionContext, ev *event.Event) {
	for _, h := range e.handlers {
		h(ev)
	}
	for _, h := range execCtx.eventHandlers() {
		h(ev)
	}
}

// Seal releases the worker pool of the run, seals its trace and writes it to
// the trace sinks. Sink failures are logged.
func (e *Executor) Seal(ctx context.Context, execCtx *ExecutionContext) {
	execCtx.releaseWorkers()
	tr := execCtx.Trace()
	if tr.Sealed() {
		return
	}
	tr.Seal()
	for _, s := range e.sinks {
		if err := s.Write(ctx, tr); err != nil {
			log.Warnf("write trace of run %s: %v", tr.RunID(), err)
		}
	}
}

func (e *Executor) runTask(ctx context.Context, g *Graph, execCtx *ExecutionContext, t *Task) {
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteTask, t.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyRunID, execCtx.runID),
		attribute.String(itelemetry.KeyTaskID, t.ID),
		attribute.String(itelemetry.KeyTaskKind, string(t.Kind)),
		attribute.String("trpc.go.agent.task_description", t.Description),
	)

	in := g.resolveInputs(t, execCtx.Output, execCtx.initial)
	e.Emit(execCtx, event.New(execCtx.runID, event.TypeTaskStarted,
		event.WithTaskID(t.ID), event.WithStep(t.Step)))

	policy := e.retry
	if t.Retry != nil {
		policy = *t.Retry
	}
	timeout := e.timeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}

	start := time.Now()
	var (
		attempts []runtrace.Attempt
		out      any
		err      error
		status   runtrace.Status
	)
	for n := 1; ; n++ {
		if cerr := ctx.Err(); cerr != nil {
			status, err = StatusCancelled, cerr
			break
		}
		aStart := time.Now()
		out, err = callTask(ctx, t, in, timeout)
		attempts = append(attempts, runtrace.Attempt{
			Number: n,
			Start:  aStart,
			End:    time.Now(),
			Error:  errString(err),
		})
		if err == nil {
			status = StatusSucceeded
			break
		}
		if ctx.Err() != nil {
			status = StatusCancelled
			break
		}
		status = StatusFailed
		if n >= policy.attempts() || !policy.ShouldRetry(err) {
			break
		}
		delay := policy.DelayFor(n, err)
		if policy.MaxElapsedTime > 0 && time.Since(start)+delay > policy.MaxElapsedTime {
			break
		}
		log.Debugf("task %s attempt %d failed, retrying in %v: %v", t.ID, n, delay, err)
		metric.Default().RecordRetry(ctx, string(t.Kind))
		if !sleep(ctx, delay) {
			status, err = StatusCancelled, ctx.Err()
			break
		}
	}

	span.SetAttributes(
		attribute.String(itelemetry.KeyTaskStatus, string(status)),
		attribute.Int(itelemetry.KeyTaskAttempts, len(attempts)),
	)
	if err != nil {
		span.SetAttributes(attribute.String(itelemetry.KeyError, err.Error()))
		span.SetStatus(codes.Error, err.Error())
	}
	e.finish(ctx, execCtx, t, runtrace.Entry{
		TaskID:   t.ID,
		TaskKind: string(t.Kind),
		Status:   status,
		Step:     t.Step,
		Inputs:   in,
		Output:   outputOf(status, out),
		Error:    errString(err),
		Start:    start,
		End:      time.Now(),
		Attempts: attempts,
	}, out, err)
}

// settle records a task that never ran.
func (e *Executor) settle(ctx context.Context, execCtx *ExecutionContext, t *Task, status runtrace.Status, cause error) {
	now := time.Now()
	e.finish(ctx, execCtx, t, runtrace.Entry{
		TaskID:   t.ID,
		TaskKind: string(t.Kind),
		Status:   status,
		Step:     t.Step,
		Error:    errString(cause),
		Start:    now,
		End:      now,
	}, nil, cause)
}

func (e *Executor) finish(
	ctx context.Context,
	execCtx *ExecutionContext,
	t *Task,
	entry runtrace.Entry,
	out any,
	err error,
) {
	if rerr := execCtx.record(t.ID, entry.Status, out, err); rerr != nil {
		log.Errorf("run %s: %v", execCtx.runID, rerr)
		return
	}
	if terr := execCtx.trace.Append(entry); terr != nil {
		log.Warnf("run %s: trace task %s: %v", execCtx.runID, t.ID, terr)
	}
	metric.Default().RecordTask(ctx, string(t.Kind), string(entry.Status), entry.Duration())
	if err != nil {
		log.Debugf("run %s: task %s %s: %v", execCtx.runID, t.ID, entry.Status, err)
	}
	e.Emit(execCtx, event.New(execCtx.runID, event.TypeTaskFinished,
		event.WithTaskID(t.ID),
		event.WithStatus(string(entry.Status)),
		event.WithStep(t.Step),
		event.WithError(err),
	))
}

// callTask runs one attempt. The attempt ends when the function returns or
// its deadline passes, whichever comes first.
func callTask(ctx context.Context, t *Task, in Inputs, timeout time.Duration) (any, error) {
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("task %s panicked: %v", t.ID, r)
				done <- result{err: fmt.Errorf("%w: %s: %v", ErrTaskPanic, t.ID, r)}
			}
		}()
		out, err := t.Func(tctx, in)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %v: %w", ErrTaskTimeout, t.ID, timeout, r.err)
		}
		return r.out, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %v", ErrTaskTimeout, t.ID, timeout)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func outputOf(status runtrace.Status, out any) any {
	if status != StatusSucceeded {
		return nil
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
