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
	"bytes"
	"encoding/json"
	"strings"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
)

// ActionKind names the variant of an Action.
type ActionKind string

// Action kinds.
const (
	ActionToolCall    ActionKind = "tool_call"
	ActionFinalAnswer ActionKind = "final_answer"
	ActionMalformed   ActionKind = "malformed"
)

// Action is the decision of one planning step. It is one of
// ToolCallAction, FinalAnswerAction or MalformedAction.
type Action interface {
	Kind() ActionKind
	// Raw returns the model text the action was parsed from.
	Raw() string
	sealed()
}

// ToolCallAction asks for a tool invocation.
type ToolCallAction struct {
	// ID is the provider's call id for native tool calls.
	ID        string
	Tool      string
	Arguments json.RawMessage
	Text      string
}

// Kind implements Action.
func (ToolCallAction) Kind() ActionKind { return ActionToolCall }

// Raw implements Action.
func (a ToolCallAction) Raw() string { return a.Text }

// Native reports whether the provider returned the call as structured data.
func (a ToolCallAction) Native() bool { return a.ID != "" }

func (ToolCallAction) sealed() {}

// FinalAnswerAction ends the loop with an answer.
type FinalAnswerAction struct {
	Answer string
	Text   string
}

// Kind implements Action.
func (FinalAnswerAction) Kind() ActionKind { return ActionFinalAnswer }

// Raw implements Action.
func (a FinalAnswerAction) Raw() string { return a.Text }

func (FinalAnswerAction) sealed() {}

// MalformedAction is a response no action could be parsed from.
type MalformedAction struct {
	Reason string
	Text   string
}

// Kind implements Action.
func (MalformedAction) Kind() ActionKind { return ActionMalformed }

// Raw implements Action.
func (a MalformedAction) Raw() string { return a.Text }

func (MalformedAction) sealed() {}

const (
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerFinalAnswer = "Final Answer:"
)

// ParseAction extracts the next action from a model response. Native tool
// calls win over text. Text is read as a JSON object first, then as the
// Action / Action Input / Final Answer line protocol.
func ParseAction(rsp *provider.Response) Action {
	if rsp == nil {
		return MalformedAction{Reason: "empty response"}
	}
	if len(rsp.ToolCalls) > 0 {
		tc := rsp.ToolCalls[0]
		if tc.Name == "" {
			return MalformedAction{Reason: "tool call without a name", Text: rsp.Text}
		}
		return ToolCallAction{
			ID:        tc.ID,
			Tool:      tc.Name,
			Arguments: normalizeArguments(tc.Arguments),
			Text:      rsp.Text,
		}
	}
	return ParseText(rsp.Text)
}

// ParseText parses an action from plain model output.
func ParseText(text string) Action {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MalformedAction{Reason: "empty response", Text: text}
	}
	if a, ok := parseJSONAction(trimmed, text); ok {
		return a
	}
	return parseLineProtocol(trimmed, text)
}

type jsonAction struct {
	Tool        string          `json:"tool"`
	Action      string          `json:"action"`
	Arguments   json.RawMessage `json:"arguments"`
	ActionInput json.RawMessage `json:"action_input"`
	FinalAnswer *string         `json:"final_answer"`
}

func parseJSONAction(trimmed, raw string) (Action, bool) {
	body := stripFence(trimmed)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var ja jsonAction
	if err := json.Unmarshal([]byte(body[start:end+1]), &ja); err != nil {
		return nil, false
	}
	if ja.FinalAnswer != nil {
		return FinalAnswerAction{Answer: *ja.FinalAnswer, Text: raw}, true
	}
	name := ja.Tool
	if name == "" {
		name = ja.Action
	}
	args := ja.Arguments
	if len(args) == 0 {
		args = ja.ActionInput
	}
	if strings.EqualFold(name, "final answer") || strings.EqualFold(name, "final_answer") {
		var answer string
		if err := json.Unmarshal(args, &answer); err != nil {
			answer = string(args)
		}
		return FinalAnswerAction{Answer: answer, Text: raw}, true
	}
	if name == "" {
		return nil, false
	}
	return ToolCallAction{Tool: name, Arguments: normalizeArguments(args), Text: raw}, true
}

func parseLineProtocol(trimmed, raw string) Action {
	if i := strings.Index(trimmed, markerFinalAnswer); i >= 0 {
		return FinalAnswerAction{
			Answer: strings.TrimSpace(trimmed[i+len(markerFinalAnswer):]),
			Text:   raw,
		}
	}
	var name string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, markerAction) {
			name = strings.TrimSpace(strings.TrimPrefix(line, markerAction))
			break
		}
	}
	if name == "" {
		return MalformedAction{Reason: "no action found", Text: raw}
	}
	i := strings.Index(trimmed, markerActionInput)
	if i < 0 {
		return MalformedAction{Reason: "action input missing", Text: raw}
	}
	input := trimmed[i+len(markerActionInput):]
	if j := strings.Index(input, "\nObservation:"); j >= 0 {
		input = input[:j]
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return MalformedAction{Reason: "action input missing", Text: raw}
	}
	return ToolCallAction{Tool: name, Arguments: textArguments(input), Text: raw}
}

// normalizeArguments turns missing arguments into an empty object and a JSON
// string into {"input": string}.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return textArguments(s)
	}
	return json.RawMessage(trimmed)
}

// textArguments keeps a JSON object as is and wraps anything else as {"input": text}.
func textArguments(text string) json.RawMessage {
	body := stripFence(strings.TrimSpace(text))
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		return json.RawMessage(body)
	}
	bts, _ := json.Marshal(map[string]string{"input": text})
	return bts
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
