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
	"sync"

	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// run is the bookkeeping of one submitted run. Its event history is kept so
// late subscribers see everything from the start.
type run struct {
	handle   Handle
	kind     runtrace.Kind
	cancel   context.CancelFunc
	handlers []event.Handler

	mu         sync.Mutex
	cond       *sync.Cond
	history    []*event.Event
	terminated bool

	done    chan struct{}
	outcome *Outcome
}

func newRun(h Handle, kind runtrace.Kind, cancel context.CancelFunc, handlers []event.Handler) *run {
	rn := &run{
		handle:   h,
		kind:     kind,
		cancel:   cancel,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	rn.cond = sync.NewCond(&rn.mu)
	return rn
}

// publish records ev and wakes subscribers. Events after the terminal one are dropped.
func (rn *run) publish(ev *event.Event) {
	rn.mu.Lock()
	if rn.terminated {
		rn.mu.Unlock()
		return
	}
	rn.history = append(rn.history, ev)
	if ev.IsTerminal() {
		rn.terminated = true
	}
	rn.cond.Broadcast()
	rn.mu.Unlock()

	for _, h := range rn.handlers {
		h(ev)
	}
}

// finish stores the outcome. Runs that ended without a run.terminated event,
// such as those that never started, get one here.
func (rn *run) finish(out *Outcome) {
	out.Handle = rn.handle
	out.Kind = rn.kind
	rn.mu.Lock()
	terminated := rn.terminated
	rn.mu.Unlock()
	if !terminated {
		rn.publish(event.New(string(rn.handle), event.TypeRunTerminated,
			event.WithStatus(out.Status),
			event.WithError(out.Err)))
	}
	rn.outcome = out
	close(rn.done)
}

// stream copies the history and then live events to ch, and closes ch after
// the terminal event or when closing is closed.
func (rn *run) stream(ch chan<- *event.Event, closing <-chan struct{}) {
	defer close(ch)
	next := 0
	for {
		rn.mu.Lock()
		for next >= len(rn.history) && !rn.terminated && !isClosed(closing) {
			rn.cond.Wait()
		}
		batch := rn.history[next:len(rn.history):len(rn.history)]
		next = len(rn.history)
		// Nothing is appended after the terminal event.
		finished := rn.terminated
		rn.mu.Unlock()

		for _, ev := range batch {
			select {
			case ch <- ev:
			case <-closing:
				return
			}
		}
		if finished || isClosed(closing) {
			return
		}
	}
}

// wake releases subscribers blocked waiting for events.
func (rn *run) wake() {
	rn.mu.Lock()
	rn.cond.Broadcast()
	rn.mu.Unlock()
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
