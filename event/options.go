//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithTaskID sets the task the event refers to.
func WithTaskID(id string) Option {
	return func(e *Event) {
		e.TaskID = id
	}
}

// WithStatus sets the status.
func WithStatus(status string) Option {
	return func(e *Event) {
		e.Status = status
	}
}

// WithStep sets the agent step.
func WithStep(step int) Option {
	return func(e *Event) {
		e.Step = step
	}
}

// WithError records err's message. A nil error is ignored.
func WithError(err error) Option {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithPayload attaches an in-memory payload.
func WithPayload(payload any) Option {
	return func(e *Event) {
		e.Payload = payload
	}
}
