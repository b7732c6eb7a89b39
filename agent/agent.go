//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package agent implements the plan/act/observe loop.
//
// Each step appends a model_call task "step-N.plan" and, for tool calls, a
// tool_call task "step-N.act" to the run's graph and executes them through
// the graph executor, so agent runs are traced like pipeline runs.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	itelemetry "trpc.group/trpc-go/trpc-agent-pipeline/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-pipeline/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// DefaultSystemPrompt explains the action format to the model.
const DefaultSystemPrompt = `You solve tasks step by step and may use tools.
At each step reply with exactly one JSON object and nothing else:
{"tool": "<tool name>", "arguments": {<arguments>}} to call a tool, or
{"final_answer": "<answer>"} when you are done.
Tool results come back to you as observations.`

const correctionPrompt = `Your previous reply could not be understood (%s).
Reply with exactly one JSON object: {"tool": "<tool name>", "arguments": {...}} or {"final_answer": "<answer>"}.`

// Toolbox is what the loop needs from a tool registry.
type Toolbox interface {
	tool.Invoker
	Declarations() []*tool.Declaration
}

// Agent runs the loop against one provider. It holds no per-run state.
type Agent struct {
	provider     provider.Provider
	executor     *graph.Executor
	systemPrompt string
	nativeTools  bool
	maxTokens    int
	temperature  *float64
}

// Option is a function that configures an Agent.
type Option func(*options)

type options struct {
	executor     *graph.Executor
	systemPrompt string
	nativeTools  bool
	maxTokens    int
	temperature  *float64
}

// WithExecutor runs the step tasks on e instead of a default executor.
func WithExecutor(e *graph.Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		o.systemPrompt = prompt
	}
}

// WithNativeTools controls whether tool declarations are sent to the
// provider for structured tool calling. Enabled by default.
func WithNativeTools(enabled bool) Option {
	return func(o *options) {
		o.nativeTools = enabled
	}
}

// WithMaxTokens bounds each planning response.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		o.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature of planning requests.
func WithTemperature(t float64) Option {
	return func(o *options) {
		o.temperature = &t
	}
}

// New creates an agent planning with p.
func New(p provider.Provider, opts ...Option) *Agent {
	o := options{systemPrompt: DefaultSystemPrompt, nativeTools: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.executor == nil {
		o.executor = graph.NewExecutor()
	}
	return &Agent{
		provider:     p,
		executor:     o.executor,
		systemPrompt: o.systemPrompt,
		nativeTools:  o.nativeTools,
		maxTokens:    o.maxTokens,
		temperature:  o.temperature,
	}
}

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

// WithEventHandler receives the events of this run.
func WithEventHandler(h event.Handler) RunOption {
	return func(o *runOptions) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

// Run drives the loop until the model answers, the budget runs out, a step
// fails or ctx is cancelled. The termination reason is reported in the
// result. The returned error is reserved for unusable arguments.
func (a *Agent) Run(ctx context.Context, prompt string, tools Toolbox, budget Budget, opts ...RunOption) (*Result, error) {
	if a.provider == nil {
		return nil, errors.New("agent: nil provider")
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.New().String()
	}

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameAgentRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyRunID, ro.runID),
		attribute.String(itelemetry.KeyRunKind, string(runtrace.KindAgent)),
	)

	execCtx := graph.NewExecutionContext(ro.runID, runtrace.KindAgent, map[string]any{"prompt": prompt})
	for _, h := range ro.handlers {
		execCtx.OnEvent(h)
	}
	r := &run{
		agent:   a,
		prompt:  prompt,
		tools:   tools,
		decls:   tools.Declarations(),
		g:       graph.New(),
		execCtx: execCtx,
		state:   &State{Budget: budget, Phase: PhasePlanning, Start: time.Now()},
	}
	res := r.loop(ctx)
	a.executor.Seal(ctx, execCtx)
	res.Trace = execCtx.Trace()

	span.SetAttributes(
		attribute.String(itelemetry.KeyAgentReason, string(res.Reason)),
		attribute.Int(itelemetry.KeyAgentStep, res.Steps),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	log.Debugf("agent run %s terminated after %d steps: %s", ro.runID, res.Steps, res.Reason)
	a.executor.Emit(execCtx, event.New(ro.runID, event.TypeRunTerminated,
		event.WithStatus(string(res.Reason)),
		event.WithStep(res.Steps),
		event.WithError(res.Err),
		event.WithPayload(res),
	))
	return res, nil
}

// run is the state of one Run call.
type run struct {
	agent   *Agent
	prompt  string
	tools   Toolbox
	decls   []*tool.Declaration
	g       *graph.Graph
	execCtx *graph.ExecutionContext
	state   *State
}

func (r *run) loop(ctx context.Context) *Result {
	for {
		if err := ctx.Err(); err != nil {
			return r.terminate(ReasonCancelled, "", err)
		}
		if r.state.exhausted(time.Now()) {
			return r.terminate(ReasonBudgetExhausted, "", nil)
		}
		step := r.state.Step + 1

		r.state.Phase = PhasePlanning
		action, planID, err := r.plan(ctx, step)
		if err != nil {
			return r.terminate(reasonFor(ctx, err), "", err)
		}
		switch act := action.(type) {
		case FinalAnswerAction:
			r.complete(ctx, Turn{Step: step, Action: act})
			return r.terminate(ReasonAnswered, act.Answer, nil)
		case ToolCallAction:
			r.state.Phase = PhaseActing
			turn, err := r.act(ctx, step, planID, act)
			if err != nil {
				return r.terminate(ReasonCancelled, "", err)
			}
			r.state.Phase = PhaseObserving
			r.complete(ctx, turn)
		default:
			return r.terminate(ReasonFailed, "", fmt.Errorf("%w: step %d", ErrMalformedAction, step))
		}
	}
}

// plan asks for the next action, retrying once with a correction when the
// reply cannot be parsed.
func (r *run) plan(ctx context.Context, step int) (Action, string, error) {
	id := fmt.Sprintf("step-%d.plan", step)
	action, err := r.planTask(ctx, id, step, nil)
	if err != nil {
		return nil, id, err
	}
	malformed, ok := action.(MalformedAction)
	if !ok {
		return action, id, nil
	}
	log.Debugf("agent run %s step %d: malformed reply (%s), asking again", r.execCtx.RunID(), step, malformed.Reason)
	id += ".retry"
	if action, err = r.planTask(ctx, id, step, &malformed); err != nil {
		return nil, id, err
	}
	if again, ok := action.(MalformedAction); ok {
		return nil, id, fmt.Errorf("%w: step %d: %s", ErrMalformedAction, step, again.Reason)
	}
	return action, id, nil
}

func (r *run) planTask(ctx context.Context, id string, step int, correction *MalformedAction) (Action, error) {
	req := &provider.Request{
		Kind:        provider.KindChat,
		Messages:    r.messages(correction),
		MaxTokens:   r.agent.maxTokens,
		Temperature: r.agent.temperature,
	}
	if r.agent.nativeTools && len(r.decls) > 0 {
		req.Tools = r.decls
	}
	p := r.agent.provider
	t := &graph.Task{
		ID:          id,
		Kind:        graph.KindModelCall,
		Description: "plan next action",
		Step:        step,
		Func: func(ctx context.Context, _ graph.Inputs) (any, error) {
			ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallModel)
			defer span.End()
			rsp, err := p.Invoke(ctx, req)
			itelemetry.TraceCallModel(span, p.Info(), req, rsp)
			if err != nil {
				return nil, err
			}
			return ParseAction(rsp), nil
		},
	}
	out, err := r.execute(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	action, ok := out.(Action)
	if !ok {
		return nil, fmt.Errorf("task %s produced %T, not an action", id, out)
	}
	return action, nil
}

// act invokes the tool. Tool failures become observations; only
// cancellation is returned as an error.
func (r *run) act(ctx context.Context, step int, planID string, call ToolCallAction) (Turn, error) {
	tools := r.tools
	t := &graph.Task{
		ID:          fmt.Sprintf("step-%d.act", step),
		Kind:        graph.KindToolCall,
		Description: call.Tool,
		Inputs:      []string{"action"},
		Step:        step,
		Func: func(ctx context.Context, in graph.Inputs) (any, error) {
			c, ok := in["action"].(ToolCallAction)
			if !ok {
				return nil, graph.Permanent(fmt.Errorf("step %d: no tool call to act on", step))
			}
			ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteTool, c.Tool))
			defer span.End()
			out, err := tools.Invoke(ctx, c.Tool, c.Arguments)
			itelemetry.TraceToolCall(span, c.Tool, c.Arguments, out)
			return out, err
		},
	}
	out, err := r.execute(ctx, t, map[string]string{"action": planID})
	turn := Turn{Step: step, Action: call}
	if err != nil {
		if ctx.Err() != nil {
			return turn, err
		}
		turn.Err = err
		turn.Observation = "error: " + err.Error()
		return turn, nil
	}
	turn.Observation = observe(out)
	return turn, nil
}

// execute appends t to the run graph and runs it.
func (r *run) execute(ctx context.Context, t *graph.Task, deps map[string]string) (any, error) {
	if err := r.g.AddTask(t, deps); err != nil {
		return nil, err
	}
	if err := r.agent.executor.Continue(ctx, r.g, r.execCtx); err != nil {
		return nil, err
	}
	switch r.execCtx.Status(t.ID) {
	case graph.StatusSucceeded:
		out, _ := r.execCtx.Output(t.ID)
		return out, nil
	case graph.StatusCancelled:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	default:
		if err := r.execCtx.Err(t.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("task %s did not run", t.ID)
	}
}

func (r *run) messages(correction *MalformedAction) []provider.Message {
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: r.systemPrompt()},
		{Role: provider.RoleUser, Content: r.prompt},
	}
	for _, turn := range r.state.Transcript {
		call, ok := turn.Action.(ToolCallAction)
		if !ok {
			continue
		}
		if call.Native() {
			msgs = append(msgs,
				provider.Message{
					Role:    provider.RoleAssistant,
					Content: call.Text,
					ToolCalls: []provider.ToolCall{{
						ID: call.ID, Name: call.Tool, Arguments: call.Arguments,
					}},
				},
				provider.Message{Role: provider.RoleTool, ToolCallID: call.ID, Content: turn.Observation},
			)
			continue
		}
		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, Content: call.Text},
			provider.Message{Role: provider.RoleUser, Content: "Observation: " + turn.Observation},
		)
	}
	if correction != nil {
		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, Content: correction.Text},
			provider.Message{Role: provider.RoleUser, Content: fmt.Sprintf(correctionPrompt, correction.Reason)},
		)
	}
	return msgs
}

func (r *run) systemPrompt() string {
	if len(r.decls) == 0 {
		return r.agent.systemPrompt
	}
	var b strings.Builder
	b.WriteString(r.agent.systemPrompt)
	b.WriteString("\n\nAvailable tools:\n")
	for _, d := range r.decls {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if d.InputSchema != nil {
			if bts, err := json.Marshal(d.InputSchema); err == nil {
				fmt.Fprintf(&b, " Arguments schema: %s", bts)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *run) complete(ctx context.Context, turn Turn) {
	r.state.Transcript = append(r.state.Transcript, turn)
	r.state.Step = turn.Step
	metric.Default().RecordAgentStep(ctx, string(turn.Action.Kind()))
	r.agent.executor.Emit(r.execCtx, event.New(r.execCtx.RunID(), event.TypeStepCompleted,
		event.WithStep(turn.Step),
		event.WithStatus(string(turn.Action.Kind())),
		event.WithError(turn.Err),
		event.WithPayload(turn),
	))
}

func (r *run) terminate(reason Reason, answer string, err error) *Result {
	r.state.Phase = PhaseTerminated
	r.state.Reason = reason
	return &Result{
		RunID:      r.execCtx.RunID(),
		Reason:     reason,
		Answer:     answer,
		Steps:      r.state.Step,
		Transcript: append([]Turn(nil), r.state.Transcript...),
		Err:        err,
	}
}

func reasonFor(ctx context.Context, err error) Reason {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	return ReasonFailed
}

// observe renders a tool result for the transcript.
func observe(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	bts, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(bts)
}
