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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		kind      ActionKind
		tool      string
		args      string
		answer    string
		malformed string
	}{
		{
			name: "json tool call",
			text: `{"tool": "search", "arguments": {"q": "go"}}`,
			kind: ActionToolCall, tool: "search", args: `{"q": "go"}`,
		},
		{
			name: "json with action keys",
			text: `{"action": "search", "action_input": "golang"}`,
			kind: ActionToolCall, tool: "search", args: `{"input":"golang"}`,
		},
		{
			name: "fenced json",
			text: "```json\n{\"tool\": \"clock\"}\n```",
			kind: ActionToolCall, tool: "clock", args: `{}`,
		},
		{
			name: "json final answer",
			text: `{"final_answer": "42"}`,
			kind: ActionFinalAnswer, answer: "42",
		},
		{
			name: "json final answer action",
			text: `{"action": "Final Answer", "action_input": "done"}`,
			kind: ActionFinalAnswer, answer: "done",
		},
		{
			name: "line protocol",
			text: "Thought: look it up\nAction: search\nAction Input: {\"q\": \"go\"}\nObservation: ignored",
			kind: ActionToolCall, tool: "search", args: `{"q": "go"}`,
		},
		{
			name: "line protocol plain input",
			text: "Action: search\nAction Input: golang",
			kind: ActionToolCall, tool: "search", args: `{"input":"golang"}`,
		},
		{
			name: "line final answer",
			text: "Thought: I know\nFinal Answer: Paris",
			kind: ActionFinalAnswer, answer: "Paris",
		},
		{
			name: "empty",
			text: "  ",
			kind: ActionMalformed, malformed: "empty response",
		},
		{
			name: "prose",
			text: "I think the answer might be 42.",
			kind: ActionMalformed, malformed: "no action found",
		},
		{
			name: "action without input",
			text: "Action: search",
			kind: ActionMalformed, malformed: "action input missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ParseText(tt.text)
			require.Equal(t, tt.kind, a.Kind())
			assert.Equal(t, tt.text, a.Raw())
			switch act := a.(type) {
			case ToolCallAction:
				assert.Equal(t, tt.tool, act.Tool)
				assert.JSONEq(t, tt.args, string(act.Arguments))
				assert.False(t, act.Native())
			case FinalAnswerAction:
				assert.Equal(t, tt.answer, act.Answer)
			case MalformedAction:
				assert.Equal(t, tt.malformed, act.Reason)
			}
		})
	}
}

func TestParseAction_NativeToolCallWins(t *testing.T) {
	a := ParseAction(&provider.Response{
		Text: `{"final_answer": "not this"}`,
		ToolCalls: []provider.ToolCall{
			{ID: "call-1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)},
			{ID: "call-2", Name: "other"},
		},
	})
	call, ok := a.(ToolCallAction)
	require.True(t, ok)
	assert.True(t, call.Native())
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "search", call.Tool)
	assert.JSONEq(t, `{"q":"go"}`, string(call.Arguments))
}

func TestParseAction_Edges(t *testing.T) {
	assert.Equal(t, ActionMalformed, ParseAction(nil).Kind())

	a := ParseAction(&provider.Response{ToolCalls: []provider.ToolCall{{ID: "x"}}})
	require.Equal(t, ActionMalformed, a.Kind())

	a = ParseAction(&provider.Response{ToolCalls: []provider.ToolCall{{ID: "x", Name: "clock", Arguments: json.RawMessage("null")}}})
	call, ok := a.(ToolCallAction)
	require.True(t, ok)
	assert.JSONEq(t, `{}`, string(call.Arguments))
}
