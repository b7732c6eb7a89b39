//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"errors"
	"time"

	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// ErrMalformedAction is reported when the model keeps answering with
// something no action can be parsed from.
var ErrMalformedAction = errors.New("malformed action")

// Budget bounds a run. Zero values disable a bound.
type Budget struct {
	MaxSteps    int           `yaml:"max_steps" json:"max_steps"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`
}

// DefaultBudget allows ten steps and five minutes.
func DefaultBudget() Budget {
	return Budget{MaxSteps: 10, MaxDuration: 5 * time.Minute}
}

// Phase is the position of the loop in the plan/act/observe cycle.
type Phase string

// Loop phases.
const (
	PhasePlanning   Phase = "planning"
	PhaseActing     Phase = "acting"
	PhaseObserving  Phase = "observing"
	PhaseTerminated Phase = "terminated"
)

// Reason tells why a run terminated.
type Reason string

// Termination reasons. Budget exhaustion is a normal termination.
const (
	ReasonAnswered        Reason = "answered"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonFailed          Reason = "failed"
	ReasonCancelled       Reason = "cancelled"
)

// Turn is one completed step: the action and what came back.
type Turn struct {
	Step        int
	Action      Action
	Observation string
	// Err is the tool failure the observation reports, if any.
	Err error
}

// State is the state of one run.
type State struct {
	Step       int
	Transcript []Turn
	Budget     Budget
	Phase      Phase
	Reason     Reason
	Start      time.Time
}

// exhausted reports whether the budget forbids another step.
func (s *State) exhausted(now time.Time) bool {
	if s.Budget.MaxSteps > 0 && s.Step >= s.Budget.MaxSteps {
		return true
	}
	return s.Budget.MaxDuration > 0 && now.Sub(s.Start) >= s.Budget.MaxDuration
}

// Result is the outcome of a run.
type Result struct {
	RunID  string
	Reason Reason
	// Answer is set when Reason is ReasonAnswered.
	Answer     string
	Steps      int
	Transcript []Turn
	// Err is the cause of a failed or cancelled run.
	Err   error
	Trace *runtrace.Trace
}
