//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-pipeline/agent"
	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

func upperGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddTask(graph.NewTransformTask("upper", func(_ context.Context, in graph.Inputs) (any, error) {
		return strings.ToUpper(in.String("text")), nil
	}, "text"), nil))
	require.NoError(t, g.Chain(graph.NewTransformTask("exclaim", func(_ context.Context, in graph.Inputs) (any, error) {
		return in.String("prev") + "!", nil
	}), "prev"))
	return g
}

// blockingGraph has one task that waits until its context is done.
func blockingGraph(t *testing.T, started chan<- struct{}) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddTask(graph.NewTransformTask("block", func(ctx context.Context, _ graph.Inputs) (any, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil))
	return g
}

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	exec := graph.NewExecutor(graph.WithDefaultRetryPolicy(graph.NoRetry()))
	r := New(exec, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription was not closed")
			return out
		}
	}
}

func TestSubmitPipeline(t *testing.T) {
	r := newRunner(t)
	h, err := r.SubmitPipeline(context.Background(), upperGraph(t), map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, h)

	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, h, out.Handle)
	assert.Equal(t, runtrace.KindPipeline, out.Kind)
	assert.Equal(t, string(graph.RunSuccess), out.Status)
	require.NotNil(t, out.Pipeline)
	assert.Equal(t, "HI!", out.Pipeline.Outputs["exclaim"])
	assert.Equal(t, string(h), out.Trace.RunID())
	assert.True(t, out.Trace.Sealed())

	// Subscribing after the end replays the whole history.
	ch, err := r.Subscribe(h)
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeTaskStarted, events[0].Type)
	assert.True(t, events[len(events)-1].IsTerminal())
	var finished int
	for _, ev := range events {
		assert.Equal(t, string(h), ev.RunID)
		if ev.Type == event.TypeTaskFinished {
			finished++
		}
	}
	assert.Equal(t, 2, finished)
}

func TestSubmitPipelineValidation(t *testing.T) {
	r := newRunner(t)
	_, err := r.SubmitPipeline(context.Background(), upperGraph(t), nil)
	assert.ErrorIs(t, err, graph.ErrValidation)
	assert.ErrorIs(t, err, graph.ErrUnresolvedInput)

	_, err = r.SubmitPipeline(context.Background(), nil, nil)
	assert.ErrorIs(t, err, graph.ErrInvalidTask)
}

func TestCancel(t *testing.T) {
	r := newRunner(t)
	started := make(chan struct{}, 1)
	h, err := r.SubmitPipeline(context.Background(), blockingGraph(t, started), nil)
	require.NoError(t, err)
	ch, err := r.Subscribe(h)
	require.NoError(t, err)

	<-started
	require.NoError(t, r.Cancel(h))
	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(graph.RunPartialFailure), out.Status)
	assert.Equal(t, []string{"block"}, out.Pipeline.Unfinished())

	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsTerminal())

	// Cancelling a finished run is a no-op.
	assert.NoError(t, r.Cancel(h))
}

func TestSubmitCallerContextDoesNotCancelRun(t *testing.T) {
	r := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := r.SubmitPipeline(ctx, upperGraph(t), map[string]any{"text": "a"})
	require.NoError(t, err)
	cancel()
	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(graph.RunSuccess), out.Status)
}

func TestUnknownHandle(t *testing.T) {
	r := newRunner(t)
	assert.ErrorIs(t, r.Cancel("nope"), ErrUnknownHandle)
	_, err := r.Subscribe("nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = r.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = r.Forget("nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestWaitContext(t *testing.T) {
	r := newRunner(t)
	h, err := r.SubmitPipeline(context.Background(), blockingGraph(t, nil), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ok, err := r.Forget(h)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = r.Outcome(h)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Cancel(h))
	_, err = r.Wait(context.Background(), h)
	require.NoError(t, err)
	out, ok, err := r.Outcome(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h, out.Handle)
	ok, err = r.Forget(h)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = r.Wait(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRunTimeout(t *testing.T) {
	r := newRunner(t, WithConfig(DefaultConfig().WithTimeout(30*time.Millisecond)))
	h, err := r.SubmitPipeline(context.Background(), blockingGraph(t, nil), nil)
	require.NoError(t, err)
	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(graph.RunPartialFailure), out.Status)
}

func TestMaxConcurrentRuns(t *testing.T) {
	r := newRunner(t, WithConfig(DefaultConfig().WithMaxConcurrent(1)))
	started := make(chan struct{}, 2)
	first, err := r.SubmitPipeline(context.Background(), blockingGraph(t, started), nil)
	require.NoError(t, err)
	second, err := r.SubmitPipeline(context.Background(), blockingGraph(t, started), nil)
	require.NoError(t, err)

	<-started
	select {
	case <-started:
		t.Fatal("second run started while the first holds the only slot")
	case <-time.After(50 * time.Millisecond):
	}

	// A queued run can be cancelled before it starts.
	require.NoError(t, r.Cancel(second))
	out, err := r.Wait(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, string(graph.StatusCancelled), out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Nil(t, out.Pipeline)

	require.NoError(t, r.Cancel(first))
	_, err = r.Wait(context.Background(), first)
	require.NoError(t, err)
}

func TestSubmitAgent(t *testing.T) {
	var seen []*event.Event
	r := newRunner(t, WithEventHandler(func(ev *event.Event) { seen = append(seen, ev) }))
	p := &provider.Func{
		Meta: provider.Info{Name: "fake"},
		Fn: func(context.Context, *provider.Request) (*provider.Response, error) {
			return &provider.Response{Text: `{"final_answer": "42"}`}, nil
		},
	}
	a := agent.New(p, agent.WithExecutor(graph.NewExecutor()))
	h, err := r.SubmitAgent(context.Background(), a, "question", nil, agent.DefaultBudget())
	require.NoError(t, err)

	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, runtrace.KindAgent, out.Kind)
	assert.Equal(t, string(agent.ReasonAnswered), out.Status)
	require.NotNil(t, out.Agent)
	assert.Equal(t, "42", out.Agent.Answer)
	assert.NoError(t, out.Err)

	events := collect(t, mustSubscribe(t, r, h))
	var types []event.Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, event.TypeStepCompleted)
	assert.Equal(t, event.TypeRunTerminated, types[len(types)-1])
	assert.Len(t, seen, len(events))
}

func TestSubmitAgentFailsToStart(t *testing.T) {
	r := newRunner(t)
	_, err := r.SubmitAgent(context.Background(), nil, "q", nil, agent.Budget{})
	require.Error(t, err)

	h, err := r.SubmitAgent(context.Background(), agent.New(nil), "q", nil, agent.Budget{})
	require.NoError(t, err)
	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(agent.ReasonFailed), out.Status)
	require.Error(t, out.Err)

	events := collect(t, mustSubscribe(t, r, h))
	require.Len(t, events, 1)
	assert.True(t, events[0].IsTerminal())
	assert.Equal(t, string(agent.ReasonFailed), events[0].Status)
}

func TestClose(t *testing.T) {
	exec := graph.NewExecutor(graph.WithDefaultRetryPolicy(graph.NoRetry()))
	r := New(exec)
	started := make(chan struct{}, 1)
	h, err := r.SubmitPipeline(context.Background(), blockingGraph(t, started), nil)
	require.NoError(t, err)
	<-started

	done := make(chan error, 1)
	go func() { done <- r.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close did not cancel the running pipeline")
	}
	out, err := r.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, string(graph.RunPartialFailure), out.Status)

	_, err = r.SubmitPipeline(context.Background(), upperGraph(t), map[string]any{"text": "x"})
	assert.True(t, errors.Is(err, ErrClosed))
	assert.NoError(t, r.Close())
}

func mustSubscribe(t *testing.T, r *Runner, h Handle) <-chan *event.Event {
	t.Helper()
	ch, err := r.Subscribe(h)
	require.NoError(t, err)
	return ch
}
