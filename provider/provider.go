//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package provider abstracts the model services that pipeline tasks and agents call.
//
// Vendor SDKs live behind the Provider interface in the openai, gemini and
// anthropic subpackages. Implementations must be safe for concurrent use.
package provider

import (
	"context"
	"encoding/json"

	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// Kind selects the kind of work a request asks for.
type Kind string

// Request kinds.
const (
	KindChat      Kind = "chat"
	KindEmbedding Kind = "embedding"
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls are calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured tool call returned by a model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Request is a provider-neutral model request.
type Request struct {
	// Kind defaults to KindChat.
	Kind Kind `json:"kind,omitempty"`
	// Model overrides the provider's default model when set.
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	// Tools are offered to the model for native tool calling.
	Tools       []*tool.Declaration `json:"tools,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	// Input holds the texts of an embedding request.
	Input []string `json:"input,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider-neutral model response.
type Response struct {
	Text         string      `json:"text,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	Embeddings   [][]float64 `json:"embeddings,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
}

// Info describes a provider.
type Info struct {
	// Name is the registry name.
	Name string `json:"name"`
	// Vendor identifies the backing service, e.g. "openai".
	Vendor string `json:"vendor"`
	// Model is the default model.
	Model string `json:"model"`
}

// Provider is an external model service.
type Provider interface {
	// Invoke sends the request and returns the response.
	// Transport failures wrap ErrProviderUnavailable and deadline overruns wrap ErrTimeout.
	Invoke(ctx context.Context, req *Request) (*Response, error)
	// Info returns basic information about the provider.
	Info() Info
}

// Func adapts a function to the Provider interface.
type Func struct {
	Meta Info
	Fn   func(ctx context.Context, req *Request) (*Response, error)
}

// Invoke calls f.Fn.
func (f *Func) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f.Fn(ctx, req)
}

// Info returns f.Meta.
func (f *Func) Info() Info {
	return f.Meta
}

// UserPrompt builds a single-message chat request.
func UserPrompt(prompt string) *Request {
	return &Request{
		Kind:     KindChat,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}

// Chat sends a single user prompt and returns the response text.
func Chat(ctx context.Context, p Provider, prompt string) (string, error) {
	rsp, err := p.Invoke(ctx, UserPrompt(prompt))
	if err != nil {
		return "", err
	}
	return rsp.Text, nil
}

// SplitSystem separates system messages from the rest of the conversation,
// for vendors that take the system prompt as a separate field.
func SplitSystem(msgs []Message) (system []string, rest []Message) {
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
